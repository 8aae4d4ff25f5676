package handler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const (
	checkoutServiceName  = "storefront.v1.CheckoutService"
	checkoutMethod       = "/" + checkoutServiceName + "/Checkout"
	previewBonusMethod   = "/" + checkoutServiceName + "/PreviewBonus"
	jsonCodecContentType = "json"
)

// jsonCodec lets the checkout service speak gRPC with plain Go structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecContentType }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type CheckoutRPCRequest struct {
	Address string `json:"address"`
	Bonus   string `json:"bonus"`
}

type CheckoutRPCResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Code    string                `json:"code,omitempty"`
	Order   *OrderSummaryResponse `json:"order,omitempty"`
}

type PreviewBonusRequest struct {
	Bonus string `json:"bonus"`
}

type PreviewBonusResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	CartTotal   string `json:"cart_total,omitempty"`
	Balance     string `json:"balance,omitempty"`
	BonusUsed   string `json:"bonus_used,omitempty"`
	BonusEarned string `json:"bonus_earned,omitempty"`
	TotalAfter  string `json:"total_after,omitempty"`
}

type CheckoutServiceServer interface {
	Checkout(ctx context.Context, req *CheckoutRPCRequest) (*CheckoutRPCResponse, error)
	PreviewBonus(ctx context.Context, req *PreviewBonusRequest) (*PreviewBonusResponse, error)
}

var checkoutServiceDesc = grpc.ServiceDesc{
	ServiceName: checkoutServiceName,
	HandlerType: (*CheckoutServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: checkoutHandler},
		{MethodName: "PreviewBonus", Handler: previewBonusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/checkout.proto",
}

func RegisterCheckoutServiceServer(s grpc.ServiceRegistrar, srv CheckoutServiceServer) {
	s.RegisterService(&checkoutServiceDesc, srv)
}

func checkoutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckoutRPCRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServiceServer).Checkout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkoutMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServiceServer).Checkout(ctx, req.(*CheckoutRPCRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func previewBonusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PreviewBonusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServiceServer).PreviewBonus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: previewBonusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServiceServer).PreviewBonus(ctx, req.(*PreviewBonusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CheckoutClient calls CheckoutService over a connection using the JSON codec.
type CheckoutClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckoutClient(cc grpc.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

func (c *CheckoutClient) Checkout(ctx context.Context, in *CheckoutRPCRequest, opts ...grpc.CallOption) (*CheckoutRPCResponse, error) {
	out := new(CheckoutRPCResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecContentType)}, opts...)
	if err := c.cc.Invoke(ctx, checkoutMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) PreviewBonus(ctx context.Context, in *PreviewBonusRequest, opts ...grpc.CallOption) (*PreviewBonusResponse, error) {
	out := new(PreviewBonusResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecContentType)}, opts...)
	if err := c.cc.Invoke(ctx, previewBonusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	checkout *service.CheckoutService
	logger   *zap.Logger
}

func NewGRPCHandler(checkout *service.CheckoutService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{checkout: checkout, logger: logger}
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRPCRequest) (*CheckoutRPCResponse, error) {
	p := PrincipalFrom(ctx)
	if err := domain.Authorize(p, domain.CapCheckout); err != nil {
		return &CheckoutRPCResponse{Success: false, Message: "you are not allowed to do this", Code: "forbidden"}, nil
	}

	summary, err := h.checkout.CheckoutCart(ctx, p.UserID, req.Address, service.ParseBonus(req.Bonus))
	if err != nil {
		code, message := h.errorCode(err)
		return &CheckoutRPCResponse{Success: false, Message: message, Code: code}, nil
	}

	return &CheckoutRPCResponse{
		Success: true,
		Message: "order placed successfully",
		Order:   newOrderSummaryResponse(*summary),
	}, nil
}

func (h *GRPCHandler) PreviewBonus(ctx context.Context, req *PreviewBonusRequest) (*PreviewBonusResponse, error) {
	p := PrincipalFrom(ctx)
	preview, err := h.checkout.PreviewCart(ctx, p.UserID, service.ParseBonus(req.Bonus))
	if err != nil {
		code, message := h.errorCode(err)
		return &PreviewBonusResponse{Success: false, Message: message, Code: code}, nil
	}

	return &PreviewBonusResponse{
		Success:     true,
		Message:     "ok",
		CartTotal:   preview.CartTotal.StringFixed(2),
		Balance:     domain.Money(preview.Balance).StringFixed(2),
		BonusUsed:   preview.Bonus.Used.StringFixed(2),
		BonusEarned: preview.Bonus.Earned.StringFixed(2),
		TotalAfter:  preview.Bonus.TotalAfter.StringFixed(2),
	}, nil
}

func (h *GRPCHandler) errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, service.ErrEmptyCart):
		return "empty_cart", err.Error()
	case errors.Is(err, service.ErrMissingAddress):
		return "missing_address", err.Error()
	case errors.Is(err, service.ErrIncompleteProfile):
		return "incomplete_profile", err.Error()
	case errors.Is(err, service.ErrInsufficientStock):
		return "insufficient_stock", err.Error()
	case errors.Is(err, service.ErrConcurrencyConflict):
		return "concurrency_conflict", service.ErrConcurrencyConflict.Error()
	case errors.Is(err, service.ErrInvalidQuantity):
		return "invalid_quantity", err.Error()
	default:
		h.logger.Error("grpc checkout failed", zap.Error(err))
		return "internal_error", "internal error"
	}
}
