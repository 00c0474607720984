package lockv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	OwnerService_CreateProvisioning_FullMethodName  = "/lock.v1.OwnerService/CreateProvisioning"
	OwnerService_ReissueProvisioning_FullMethodName = "/lock.v1.OwnerService/ReissueProvisioning"
	OwnerService_ListDevices_FullMethodName         = "/lock.v1.OwnerService/ListDevices"
	OwnerService_GetDevice_FullMethodName           = "/lock.v1.OwnerService/GetDevice"
	OwnerService_IssueLock_FullMethodName           = "/lock.v1.OwnerService/IssueLock"
	OwnerService_UpdateSettings_FullMethodName      = "/lock.v1.OwnerService/UpdateSettings"
	OwnerService_DeleteDevice_FullMethodName        = "/lock.v1.OwnerService/DeleteDevice"
	OwnerService_GetLockPreference_FullMethodName   = "/lock.v1.OwnerService/GetLockPreference"
	OwnerService_SetLockPreference_FullMethodName   = "/lock.v1.OwnerService/SetLockPreference"
)

// OwnerServiceServer is the owner-facing API. Every method requires a bearer access token.
type OwnerServiceServer interface {
	CreateProvisioning(context.Context, *CreateProvisioningRequest) (*CreateProvisioningResponse, error)
	ReissueProvisioning(context.Context, *ReissueProvisioningRequest) (*ReissueProvisioningResponse, error)
	ListDevices(context.Context, *ListDevicesRequest) (*ListDevicesResponse, error)
	GetDevice(context.Context, *GetDeviceRequest) (*GetDeviceResponse, error)
	IssueLock(context.Context, *IssueLockRequest) (*IssueLockResponse, error)
	UpdateSettings(context.Context, *UpdateSettingsRequest) (*UpdateSettingsResponse, error)
	DeleteDevice(context.Context, *DeleteDeviceRequest) (*DeleteDeviceResponse, error)
	GetLockPreference(context.Context, *GetLockPreferenceRequest) (*GetLockPreferenceResponse, error)
	SetLockPreference(context.Context, *SetLockPreferenceRequest) (*SetLockPreferenceResponse, error)
}

// UnimplementedOwnerServiceServer returns Unimplemented for every method. Embed it to
// stay forward compatible.
type UnimplementedOwnerServiceServer struct{}

func (UnimplementedOwnerServiceServer) CreateProvisioning(context.Context, *CreateProvisioningRequest) (*CreateProvisioningResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateProvisioning not implemented")
}
func (UnimplementedOwnerServiceServer) ReissueProvisioning(context.Context, *ReissueProvisioningRequest) (*ReissueProvisioningResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReissueProvisioning not implemented")
}
func (UnimplementedOwnerServiceServer) ListDevices(context.Context, *ListDevicesRequest) (*ListDevicesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDevices not implemented")
}
func (UnimplementedOwnerServiceServer) GetDevice(context.Context, *GetDeviceRequest) (*GetDeviceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetDevice not implemented")
}
func (UnimplementedOwnerServiceServer) IssueLock(context.Context, *IssueLockRequest) (*IssueLockResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method IssueLock not implemented")
}
func (UnimplementedOwnerServiceServer) UpdateSettings(context.Context, *UpdateSettingsRequest) (*UpdateSettingsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateSettings not implemented")
}
func (UnimplementedOwnerServiceServer) DeleteDevice(context.Context, *DeleteDeviceRequest) (*DeleteDeviceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteDevice not implemented")
}
func (UnimplementedOwnerServiceServer) GetLockPreference(context.Context, *GetLockPreferenceRequest) (*GetLockPreferenceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLockPreference not implemented")
}
func (UnimplementedOwnerServiceServer) SetLockPreference(context.Context, *SetLockPreferenceRequest) (*SetLockPreferenceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SetLockPreference not implemented")
}

// OwnerService_ServiceDesc is the grpc.ServiceDesc for OwnerService.
var OwnerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "lock.v1.OwnerService",
	HandlerType: (*OwnerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateProvisioning", Handler: unary(OwnerService_CreateProvisioning_FullMethodName, OwnerServiceServer.CreateProvisioning)},
		{MethodName: "ReissueProvisioning", Handler: unary(OwnerService_ReissueProvisioning_FullMethodName, OwnerServiceServer.ReissueProvisioning)},
		{MethodName: "ListDevices", Handler: unary(OwnerService_ListDevices_FullMethodName, OwnerServiceServer.ListDevices)},
		{MethodName: "GetDevice", Handler: unary(OwnerService_GetDevice_FullMethodName, OwnerServiceServer.GetDevice)},
		{MethodName: "IssueLock", Handler: unary(OwnerService_IssueLock_FullMethodName, OwnerServiceServer.IssueLock)},
		{MethodName: "UpdateSettings", Handler: unary(OwnerService_UpdateSettings_FullMethodName, OwnerServiceServer.UpdateSettings)},
		{MethodName: "DeleteDevice", Handler: unary(OwnerService_DeleteDevice_FullMethodName, OwnerServiceServer.DeleteDevice)},
		{MethodName: "GetLockPreference", Handler: unary(OwnerService_GetLockPreference_FullMethodName, OwnerServiceServer.GetLockPreference)},
		{MethodName: "SetLockPreference", Handler: unary(OwnerService_SetLockPreference_FullMethodName, OwnerServiceServer.SetLockPreference)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lock/v1/owner.proto",
}

// RegisterOwnerServiceServer registers srv with s.
func RegisterOwnerServiceServer(s grpc.ServiceRegistrar, srv OwnerServiceServer) {
	s.RegisterService(&OwnerService_ServiceDesc, srv)
}

// OwnerServiceClient is the client API for OwnerService.
type OwnerServiceClient interface {
	CreateProvisioning(ctx context.Context, in *CreateProvisioningRequest, opts ...grpc.CallOption) (*CreateProvisioningResponse, error)
	ReissueProvisioning(ctx context.Context, in *ReissueProvisioningRequest, opts ...grpc.CallOption) (*ReissueProvisioningResponse, error)
	ListDevices(ctx context.Context, in *ListDevicesRequest, opts ...grpc.CallOption) (*ListDevicesResponse, error)
	GetDevice(ctx context.Context, in *GetDeviceRequest, opts ...grpc.CallOption) (*GetDeviceResponse, error)
	IssueLock(ctx context.Context, in *IssueLockRequest, opts ...grpc.CallOption) (*IssueLockResponse, error)
	UpdateSettings(ctx context.Context, in *UpdateSettingsRequest, opts ...grpc.CallOption) (*UpdateSettingsResponse, error)
	DeleteDevice(ctx context.Context, in *DeleteDeviceRequest, opts ...grpc.CallOption) (*DeleteDeviceResponse, error)
	GetLockPreference(ctx context.Context, in *GetLockPreferenceRequest, opts ...grpc.CallOption) (*GetLockPreferenceResponse, error)
	SetLockPreference(ctx context.Context, in *SetLockPreferenceRequest, opts ...grpc.CallOption) (*SetLockPreferenceResponse, error)
}

type ownerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOwnerServiceClient returns an OwnerServiceClient over cc.
func NewOwnerServiceClient(cc grpc.ClientConnInterface) OwnerServiceClient {
	return &ownerServiceClient{cc: cc}
}

func (c *ownerServiceClient) CreateProvisioning(ctx context.Context, in *CreateProvisioningRequest, opts ...grpc.CallOption) (*CreateProvisioningResponse, error) {
	return invoke[CreateProvisioningResponse](ctx, c.cc, OwnerService_CreateProvisioning_FullMethodName, in, opts)
}

func (c *ownerServiceClient) ReissueProvisioning(ctx context.Context, in *ReissueProvisioningRequest, opts ...grpc.CallOption) (*ReissueProvisioningResponse, error) {
	return invoke[ReissueProvisioningResponse](ctx, c.cc, OwnerService_ReissueProvisioning_FullMethodName, in, opts)
}

func (c *ownerServiceClient) ListDevices(ctx context.Context, in *ListDevicesRequest, opts ...grpc.CallOption) (*ListDevicesResponse, error) {
	return invoke[ListDevicesResponse](ctx, c.cc, OwnerService_ListDevices_FullMethodName, in, opts)
}

func (c *ownerServiceClient) GetDevice(ctx context.Context, in *GetDeviceRequest, opts ...grpc.CallOption) (*GetDeviceResponse, error) {
	return invoke[GetDeviceResponse](ctx, c.cc, OwnerService_GetDevice_FullMethodName, in, opts)
}

func (c *ownerServiceClient) IssueLock(ctx context.Context, in *IssueLockRequest, opts ...grpc.CallOption) (*IssueLockResponse, error) {
	return invoke[IssueLockResponse](ctx, c.cc, OwnerService_IssueLock_FullMethodName, in, opts)
}

func (c *ownerServiceClient) UpdateSettings(ctx context.Context, in *UpdateSettingsRequest, opts ...grpc.CallOption) (*UpdateSettingsResponse, error) {
	return invoke[UpdateSettingsResponse](ctx, c.cc, OwnerService_UpdateSettings_FullMethodName, in, opts)
}

func (c *ownerServiceClient) DeleteDevice(ctx context.Context, in *DeleteDeviceRequest, opts ...grpc.CallOption) (*DeleteDeviceResponse, error) {
	return invoke[DeleteDeviceResponse](ctx, c.cc, OwnerService_DeleteDevice_FullMethodName, in, opts)
}

func (c *ownerServiceClient) GetLockPreference(ctx context.Context, in *GetLockPreferenceRequest, opts ...grpc.CallOption) (*GetLockPreferenceResponse, error) {
	return invoke[GetLockPreferenceResponse](ctx, c.cc, OwnerService_GetLockPreference_FullMethodName, in, opts)
}

func (c *ownerServiceClient) SetLockPreference(ctx context.Context, in *SetLockPreferenceRequest, opts ...grpc.CallOption) (*SetLockPreferenceResponse, error) {
	return invoke[SetLockPreferenceResponse](ctx, c.cc, OwnerService_SetLockPreference_FullMethodName, in, opts)
}
