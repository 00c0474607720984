package lockv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DeviceService_Enroll_FullMethodName                 = "/lock.v1.DeviceService/Enroll"
	DeviceService_GetLockStatus_FullMethodName          = "/lock.v1.DeviceService/GetLockStatus"
	DeviceService_GetRuleSet_FullMethodName             = "/lock.v1.DeviceService/GetRuleSet"
	DeviceService_ReportState_FullMethodName            = "/lock.v1.DeviceService/ReportState"
	DeviceService_GetOwnerLockPreference_FullMethodName = "/lock.v1.DeviceService/GetOwnerLockPreference"
)

// DeviceServiceServer is the agent-facing API. Calls are keyed by device id and
// checked against the enrolled installation.
type DeviceServiceServer interface {
	Enroll(context.Context, *EnrollRequest) (*EnrollResponse, error)
	GetLockStatus(context.Context, *GetLockStatusRequest) (*GetLockStatusResponse, error)
	GetRuleSet(context.Context, *GetRuleSetRequest) (*GetRuleSetResponse, error)
	ReportState(context.Context, *ReportStateRequest) (*ReportStateResponse, error)
	GetOwnerLockPreference(context.Context, *GetOwnerLockPreferenceRequest) (*GetOwnerLockPreferenceResponse, error)
}

// UnimplementedDeviceServiceServer returns Unimplemented for every method.
type UnimplementedDeviceServiceServer struct{}

func (UnimplementedDeviceServiceServer) Enroll(context.Context, *EnrollRequest) (*EnrollResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Enroll not implemented")
}
func (UnimplementedDeviceServiceServer) GetLockStatus(context.Context, *GetLockStatusRequest) (*GetLockStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLockStatus not implemented")
}
func (UnimplementedDeviceServiceServer) GetRuleSet(context.Context, *GetRuleSetRequest) (*GetRuleSetResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRuleSet not implemented")
}
func (UnimplementedDeviceServiceServer) ReportState(context.Context, *ReportStateRequest) (*ReportStateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReportState not implemented")
}
func (UnimplementedDeviceServiceServer) GetOwnerLockPreference(context.Context, *GetOwnerLockPreferenceRequest) (*GetOwnerLockPreferenceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOwnerLockPreference not implemented")
}

// DeviceService_ServiceDesc is the grpc.ServiceDesc for DeviceService.
var DeviceService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "lock.v1.DeviceService",
	HandlerType: (*DeviceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enroll", Handler: unary(DeviceService_Enroll_FullMethodName, DeviceServiceServer.Enroll)},
		{MethodName: "GetLockStatus", Handler: unary(DeviceService_GetLockStatus_FullMethodName, DeviceServiceServer.GetLockStatus)},
		{MethodName: "GetRuleSet", Handler: unary(DeviceService_GetRuleSet_FullMethodName, DeviceServiceServer.GetRuleSet)},
		{MethodName: "ReportState", Handler: unary(DeviceService_ReportState_FullMethodName, DeviceServiceServer.ReportState)},
		{MethodName: "GetOwnerLockPreference", Handler: unary(DeviceService_GetOwnerLockPreference_FullMethodName, DeviceServiceServer.GetOwnerLockPreference)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lock/v1/device.proto",
}

// RegisterDeviceServiceServer registers srv with s.
func RegisterDeviceServiceServer(s grpc.ServiceRegistrar, srv DeviceServiceServer) {
	s.RegisterService(&DeviceService_ServiceDesc, srv)
}

// DeviceServiceClient is the client API for DeviceService.
type DeviceServiceClient interface {
	Enroll(ctx context.Context, in *EnrollRequest, opts ...grpc.CallOption) (*EnrollResponse, error)
	GetLockStatus(ctx context.Context, in *GetLockStatusRequest, opts ...grpc.CallOption) (*GetLockStatusResponse, error)
	GetRuleSet(ctx context.Context, in *GetRuleSetRequest, opts ...grpc.CallOption) (*GetRuleSetResponse, error)
	ReportState(ctx context.Context, in *ReportStateRequest, opts ...grpc.CallOption) (*ReportStateResponse, error)
	GetOwnerLockPreference(ctx context.Context, in *GetOwnerLockPreferenceRequest, opts ...grpc.CallOption) (*GetOwnerLockPreferenceResponse, error)
}

type deviceServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewDeviceServiceClient returns a DeviceServiceClient over cc.
func NewDeviceServiceClient(cc grpc.ClientConnInterface) DeviceServiceClient {
	return &deviceServiceClient{cc: cc}
}

func (c *deviceServiceClient) Enroll(ctx context.Context, in *EnrollRequest, opts ...grpc.CallOption) (*EnrollResponse, error) {
	return invoke[EnrollResponse](ctx, c.cc, DeviceService_Enroll_FullMethodName, in, opts)
}

func (c *deviceServiceClient) GetLockStatus(ctx context.Context, in *GetLockStatusRequest, opts ...grpc.CallOption) (*GetLockStatusResponse, error) {
	return invoke[GetLockStatusResponse](ctx, c.cc, DeviceService_GetLockStatus_FullMethodName, in, opts)
}

func (c *deviceServiceClient) GetRuleSet(ctx context.Context, in *GetRuleSetRequest, opts ...grpc.CallOption) (*GetRuleSetResponse, error) {
	return invoke[GetRuleSetResponse](ctx, c.cc, DeviceService_GetRuleSet_FullMethodName, in, opts)
}

func (c *deviceServiceClient) ReportState(ctx context.Context, in *ReportStateRequest, opts ...grpc.CallOption) (*ReportStateResponse, error) {
	return invoke[ReportStateResponse](ctx, c.cc, DeviceService_ReportState_FullMethodName, in, opts)
}

func (c *deviceServiceClient) GetOwnerLockPreference(ctx context.Context, in *GetOwnerLockPreferenceRequest, opts ...grpc.CallOption) (*GetOwnerLockPreferenceResponse, error) {
	return invoke[GetOwnerLockPreferenceResponse](ctx, c.cc, DeviceService_GetOwnerLockPreference_FullMethodName, in, opts)
}
