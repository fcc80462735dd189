package api

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"mbi/internal/breadth"
	"mbi/internal/domain"
)

// BreadthServiceName is the fully qualified gRPC service name.
const BreadthServiceName = "mbi.v1.Breadth"

// BreadthServer is the server API of the Breadth service. Records travel as
// structpb.Struct documents shaped {"date": "YYYY-MM-DD", "values": {...}}.
type BreadthServer interface {
	// Latest returns the newest record.
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Get returns the record for {"date": "YYYY-MM-DD"}.
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Range returns {"records": [...]} for {"start": ..., "end": ...}.
	Range(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBreadthServer registers srv on s.
func RegisterBreadthServer(s grpc.ServiceRegistrar, srv BreadthServer) {
	s.RegisterService(&breadthServiceDesc, srv)
}

var breadthServiceDesc = grpc.ServiceDesc{
	ServiceName: BreadthServiceName,
	HandlerType: (*BreadthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Latest", Handler: latestHandler},
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Range", Handler: rangeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mbi/v1/breadth.proto",
}

func latestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BreadthServer).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + BreadthServiceName + "/Latest"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BreadthServer).Latest(ctx, req.(*emptypb.Empty))
	})
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BreadthServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + BreadthServiceName + "/Get"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BreadthServer).Get(ctx, req.(*structpb.Struct))
	})
}

func rangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BreadthServer).Range(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + BreadthServiceName + "/Range"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BreadthServer).Range(ctx, req.(*structpb.Struct))
	})
}

// BreadthService implements BreadthServer over the ledger.
type BreadthService struct {
	recs   Records
	schema breadth.Schema
}

// NewBreadthService creates a BreadthService reading from recs.
func NewBreadthService(recs Records, schema breadth.Schema) *BreadthService {
	return &BreadthService{recs: recs, schema: schema}
}

func (s *BreadthService) Latest(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rec, ok := s.recs.Latest()
	if !ok {
		return nil, status.Error(codes.NotFound, "ledger is empty")
	}
	return s.record(rec)
}

func (s *BreadthService) Get(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d, err := dateField(req, "date", true)
	if err != nil {
		return nil, err
	}
	rec, ok := s.recs.Get(d)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no record for %s", domain.FormatDate(d))
	}
	return s.record(rec)
}

func (s *BreadthService) Range(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start, err := dateField(req, "start", false)
	if err != nil {
		return nil, err
	}
	end, err := dateField(req, "end", false)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}

	recs := s.recs.Range(start, end)
	list := make([]interface{}, len(recs))
	for i, r := range recs {
		list[i] = s.recordMap(r)
	}
	out, err := structpb.NewStruct(map[string]interface{}{"records": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *BreadthService) record(rec domain.BreadthRecord) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(s.recordMap(rec))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *BreadthService) recordMap(rec domain.BreadthRecord) map[string]interface{} {
	vals := s.schema.Values(rec)
	m := make(map[string]interface{}, len(vals))
	for k, v := range vals {
		m[k] = v
	}
	return map[string]interface{}{"date": domain.FormatDate(rec.Date), "values": m}
}

// dateField reads a YYYY-MM-DD string field. Absent optional fields yield
// the zero time.
func dateField(req *structpb.Struct, name string, required bool) (time.Time, error) {
	v, ok := req.GetFields()[name]
	if !ok || v.GetStringValue() == "" {
		if required {
			return time.Time{}, status.Errorf(codes.InvalidArgument, "%s is required", name)
		}
		return time.Time{}, nil
	}
	d, err := domain.ParseDate(v.GetStringValue())
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "invalid %s: %v", name, err)
	}
	return d, nil
}

// BreadthClient calls the Breadth service.
type BreadthClient struct {
	cc grpc.ClientConnInterface
}

// NewBreadthClient wraps an established connection.
func NewBreadthClient(cc grpc.ClientConnInterface) *BreadthClient {
	return &BreadthClient{cc: cc}
}

func (c *BreadthClient) Latest(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BreadthServiceName+"/Latest", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BreadthClient) Get(ctx context.Context, date time.Time, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"date": domain.FormatDate(date)})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BreadthServiceName+"/Get", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BreadthClient) Range(ctx context.Context, start, end time.Time, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"start": domain.FormatDate(start),
		"end":   domain.FormatDate(end),
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BreadthServiceName+"/Range", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
