package main

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/breez/data-store/codec"
	"github.com/breez/data-store/manager"
	"github.com/breez/data-store/store"
	"github.com/breez/data-store/transfer"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DocStoreServer is the docstore.DocStore service. Requests and replies are
// google.protobuf.Struct values.
type DocStoreServer interface {
	Transfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConvertFormat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyConsistency(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FlushPendingWrites(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Find(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Insert(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type docStoreMethod func(DocStoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func docStoreHandler(name string, call docStoreMethod) grpc.MethodDesc {
	fullMethod := "/docstore.DocStore/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DocStoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(DocStoreServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var DocStore_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "docstore.DocStore",
	HandlerType: (*DocStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		docStoreHandler("Transfer", DocStoreServer.Transfer),
		docStoreHandler("ConvertFormat", DocStoreServer.ConvertFormat),
		docStoreHandler("VerifyConsistency", DocStoreServer.VerifyConsistency),
		docStoreHandler("FlushPendingWrites", DocStoreServer.FlushPendingWrites),
		docStoreHandler("Find", DocStoreServer.Find),
		docStoreHandler("Insert", DocStoreServer.Insert),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docstore.proto",
}

func RegisterDocStoreServer(s grpc.ServiceRegistrar, srv DocStoreServer) {
	s.RegisterService(&DocStore_ServiceDesc, srv)
}

// DocStoreClient calls the docstore.DocStore service.
type DocStoreClient struct {
	cc grpc.ClientConnInterface
}

func NewDocStoreClient(cc grpc.ClientConnInterface) *DocStoreClient {
	return &DocStoreClient{cc: cc}
}

func (c *DocStoreClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/docstore.DocStore/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type ManagedDocStoreServer struct {
	manager *manager.Manager
	logger  zerolog.Logger
}

func NewManagedDocStoreServer(m *manager.Manager, logger zerolog.Logger) *ManagedDocStoreServer {
	return &ManagedDocStoreServer{manager: m, logger: logger}
}

func (s *ManagedDocStoreServer) Transfer(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	req := msg.AsMap()
	source, destination := stringField(req, "source"), stringField(req, "destination")
	predicate, err := wherePredicate(req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	opts := transfer.Options{
		Transform: setTransform(req),
		Message:   stringField(req, "message"),
	}
	if conv, ok := req["conversion"].(map[string]interface{}); ok {
		c := conversionOptions(conv)
		opts.Conversion = &c
	}
	if err := s.manager.Transfer(ctx, source, destination, predicate, opts); err != nil {
		return nil, s.toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *ManagedDocStoreServer) ConvertFormat(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	req := msg.AsMap()
	opts := codec.ConvertOptions{}
	if conv, ok := req["conversion"].(map[string]interface{}); ok {
		opts = conversionOptions(conv)
	}
	if _, ok := req["where"]; ok {
		predicate, err := wherePredicate(req)
		if err != nil {
			return nil, s.toStatus(err)
		}
		opts.Filter = predicate
	}
	if set := setTransform(req); set != nil {
		opts.Transform = set
	}
	if err := s.manager.ConvertFormat(ctx, stringField(req, "source"), stringField(req, "destination"), opts); err != nil {
		return nil, s.toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *ManagedDocStoreServer) VerifyConsistency(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	req := msg.AsMap()
	predicate, err := wherePredicate(req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	consistent, err := s.manager.VerifyConsistency(ctx, stringField(req, "source"), stringField(req, "destination"), predicate)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{"consistent": consistent})
}

func (s *ManagedDocStoreServer) FlushPendingWrites(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.manager.FlushPendingWrites(ctx); err != nil {
		return nil, s.toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *ManagedDocStoreServer) Find(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	req := msg.AsMap()
	predicate, err := wherePredicate(req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	docs, err := s.manager.Find(ctx, stringField(req, "path"), predicate)
	if err != nil {
		return nil, s.toStatus(err)
	}
	list := make([]interface{}, len(docs))
	for i, d := range docs {
		list[i] = replyValue(map[string]interface{}(d))
	}
	reply, err := structpb.NewStruct(map[string]interface{}{"documents": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode documents: %v", err)
	}
	return reply, nil
}

const maxExactInteger = 1 << 53

// replyValue rewrites json numbers for a protobuf reply. Integers a double
// cannot hold exactly are sent as their decimal string.
func replyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			if i > maxExactInteger || i < -maxExactInteger {
				return t.String()
			}
			return float64(i)
		}
		if f, err := t.Float64(); err == nil && math.Abs(f) <= maxExactInteger {
			return f
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = replyValue(e)
		}
		return out
	case codec.Document:
		return replyValue(map[string]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = replyValue(e)
		}
		return out
	}
	return v
}

func (s *ManagedDocStoreServer) Insert(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	req := msg.AsMap()
	list, _ := req["documents"].([]interface{})
	docs := make([]codec.Document, 0, len(list))
	for i, e := range list {
		d, ok := e.(map[string]interface{})
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "document %d is not an object", i+1)
		}
		docs = append(docs, d)
	}
	revision, err := s.manager.Insert(ctx, stringField(req, "path"), docs...)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{"revision": revision})
}

func (s *ManagedDocStoreServer) toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, transfer.ErrPartialCommit):
		code = codes.DataLoss
	case errors.Is(err, transfer.ErrTransferInProgress):
		code = codes.Aborted
	case errors.Is(err, store.ErrRevisionConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, store.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, transfer.ErrSourceNotFound), errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, transfer.ErrInvalidArgument),
		errors.Is(err, manager.ErrInvalidCondition),
		errors.Is(err, codec.ErrMalformed),
		errors.Is(err, codec.ErrUnknownFormat):
		code = codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	if code == codes.Internal || code == codes.DataLoss {
		s.logger.Error().Err(err).Msg("request failed")
	}
	return status.Error(code, err.Error())
}

func stringField(req map[string]interface{}, name string) string {
	v, _ := req[name].(string)
	return v
}

// wherePredicate builds the predicate of the "where" list. A missing list
// selects every document.
func wherePredicate(req map[string]interface{}) (transfer.Predicate, error) {
	raw, ok := req["where"]
	if !ok || raw == nil {
		return func(codec.Document) bool { return true }, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: where must be a list", manager.ErrInvalidCondition)
	}
	conditions := make(manager.Conditions, 0, len(list))
	for i, e := range list {
		c, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: condition %d is not an object", manager.ErrInvalidCondition, i+1)
		}
		conditions = append(conditions, manager.Condition{
			Field: stringField(c, "field"),
			Op:    stringField(c, "op"),
			Value: c["value"],
		})
	}
	return conditions.Predicate()
}

// setTransform returns a transform assigning the fields of "set", or nil.
func setTransform(req map[string]interface{}) func(codec.Document) codec.Document {
	set, ok := req["set"].(map[string]interface{})
	if !ok || len(set) == 0 {
		return nil
	}
	return func(d codec.Document) codec.Document {
		for k, v := range set {
			d[k] = v
		}
		return d
	}
}

func conversionOptions(conv map[string]interface{}) codec.ConvertOptions {
	opts := codec.ConvertOptions{
		SourceFormat:   stringField(conv, "source_format"),
		TargetFormat:   stringField(conv, "target_format"),
		TimestampField: stringField(conv, "timestamp_field"),
	}
	if fieldMap, ok := conv["field_map"].(map[string]interface{}); ok {
		opts.FieldMap = make(map[string]string, len(fieldMap))
		for from, to := range fieldMap {
			if name, ok := to.(string); ok {
				opts.FieldMap[from] = name
			}
		}
	}
	return opts
}
