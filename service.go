package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/akhenakh/rasterblock/block"
	"github.com/akhenakh/rasterblock/index"
	"github.com/akhenakh/rasterblock/raster"
	"github.com/akhenakh/rasterblock/split"
)

const (
	indexSQLite  = "index.sqlite"
	indexGeoJSON = "index.geojson"
	planTTL      = time.Hour
)

// Server serves tiling plans of one source raster and materializes them on request.
type Server struct {
	source     string
	props      raster.Properties
	blockSize  int
	overlap    float64
	outputDir  string
	writeIndex bool

	splitter *split.Splitter
	// splitMu allows one split at a time, they share the output directory.
	splitMu sync.Mutex

	plans    *ccache.Cache[[]block.Tile]
	inflight singleflight.Group

	logger *slog.Logger
}

// NewServer reads the source properties once, the handle is closed before returning.
func NewServer(cfg Config, src raster.Opener, dst raster.Creator, logger *slog.Logger, metrics *split.Metrics) (*Server, error) {
	r, err := raster.Open(src, cfg.RasterSource)
	if err != nil {
		return nil, err
	}
	props := r.Properties()
	if err := r.Close(); err != nil {
		return nil, err
	}
	if _, err := block.Step(cfg.BlockSize, cfg.Overlap); err != nil {
		return nil, fmt.Errorf("invalid default plan parameters: %w", err)
	}
	logger.Info("source raster loaded", "source", cfg.RasterSource,
		"width", props.Width(), "height", props.Height(), "bands", props.Bands(), "pixel_type", props.PixelTypeName())

	return &Server{
		source:     cfg.RasterSource,
		props:      props,
		blockSize:  cfg.BlockSize,
		overlap:    cfg.Overlap,
		outputDir:  cfg.OutputDir,
		writeIndex: cfg.WriteIndex,
		splitter: split.New(src, dst,
			split.Workers(cfg.Workers),
			split.Logger(logger),
			split.WithMetrics(metrics),
		),
		plans:  ccache.New(ccache.Configure[[]block.Tile]().MaxSize(64).ItemsToPrune(8)),
		logger: logger,
	}, nil
}

func (s *Server) Close() { s.plans.Stop() }

// plan returns the cached plan for the parameters, computing it once for concurrent callers.
func (s *Server) plan(blockSize int, overlap float64) ([]block.Tile, error) {
	key := strconv.Itoa(blockSize) + "/" + strconv.FormatFloat(overlap, 'g', -1, 64)
	if item := s.plans.Get(key); item != nil && !item.Expired() {
		return item.Value(), nil
	}
	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		tiles, err := block.Plan(s.props, blockSize, overlap)
		if err != nil {
			return nil, err
		}
		s.plans.Set(key, tiles, planTTL)
		return tiles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]block.Tile), nil
}

type planResponse struct {
	Source string       `json:"source"`
	Grid   block.Grid   `json:"grid"`
	Tiles  []block.Tile `json:"tiles"`
}

func (s *Server) planResponse(blockSize int, overlap float64) (planResponse, error) {
	tiles, err := s.plan(blockSize, overlap)
	if err != nil {
		return planResponse{}, err
	}
	grid, err := block.NewGrid(s.props.Width(), s.props.Height(), blockSize, overlap)
	if err != nil {
		return planResponse{}, err
	}
	return planResponse{Source: s.source, Grid: grid, Tiles: tiles}, nil
}

type splitResponse struct {
	Dir     string   `json:"dir"`
	Tiles   int      `json:"tiles"`
	Files   []string `json:"files"`
	Indexes []string `json:"indexes,omitempty"`
}

func (s *Server) split(ctx context.Context, blockSize int, overlap float64) (splitResponse, error) {
	tiles, err := s.plan(blockSize, overlap)
	if err != nil {
		return splitResponse{}, err
	}
	results, err := s.splitter.Split(ctx, s.source, s.outputDir, tiles)
	if err != nil {
		return splitResponse{}, err
	}
	resp := splitResponse{Dir: s.outputDir, Tiles: len(results)}
	for _, res := range results {
		resp.Files = append(resp.Files, filepath.Base(res.Path))
	}
	if !s.writeIndex {
		return resp, nil
	}
	sqlitePath := filepath.Join(s.outputDir, indexSQLite)
	meta := index.Meta{Source: s.source, Properties: s.props, BlockSize: blockSize, Overlap: overlap, Ext: block.Ext}
	if err := index.WriteSQLite(ctx, sqlitePath, meta, tiles); err != nil {
		return splitResponse{}, fmt.Errorf("write sqlite index: %w", err)
	}
	geojsonPath := filepath.Join(s.outputDir, indexGeoJSON)
	if err := index.WriteGeoJSON(geojsonPath, tiles, block.Ext); err != nil {
		return splitResponse{}, fmt.Errorf("write geojson index: %w", err)
	}
	resp.Indexes = []string{indexSQLite, indexGeoJSON}
	return resp, nil
}

// Handler is the REST API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/properties", s.propertiesHandler)
	r.Get("/plan", s.planHandler)
	r.Get("/plan.geojson", s.planGeoJSONHandler)
	r.Post("/split", s.splitHandler)
	return r
}

// planParams reads blockSize and overlap from the query, falling back to the configured values.
func (s *Server) planParams(r *http.Request) (int, float64, error) {
	blockSize, overlap := s.blockSize, s.overlap
	q := r.URL.Query()
	if v := q.Get("blockSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, raster.ConfigErrorf("invalid blockSize %q", v)
		}
		blockSize = n
	}
	if v := q.Get("overlap"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, raster.ConfigErrorf("invalid overlap %q", v)
		}
		overlap = f
	}
	return blockSize, overlap, nil
}

func (s *Server) httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, raster.ErrConfiguration) {
		code = http.StatusBadRequest
	} else {
		s.logger.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) propertiesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.props)
}

func (s *Server) planHandler(w http.ResponseWriter, r *http.Request) {
	blockSize, overlap, err := s.planParams(r)
	if err != nil {
		s.httpError(w, err)
		return
	}
	resp, err := s.planResponse(blockSize, overlap)
	if err != nil {
		s.httpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) planGeoJSONHandler(w http.ResponseWriter, r *http.Request) {
	blockSize, overlap, err := s.planParams(r)
	if err != nil {
		s.httpError(w, err)
		return
	}
	tiles, err := s.plan(blockSize, overlap)
	if err != nil {
		s.httpError(w, err)
		return
	}
	b, err := index.FeatureCollection(tiles, block.Ext).MarshalJSON()
	if err != nil {
		s.httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(b)
}

func (s *Server) splitHandler(w http.ResponseWriter, r *http.Request) {
	blockSize, overlap, err := s.planParams(r)
	if err != nil {
		s.httpError(w, err)
		return
	}
	if !s.splitMu.TryLock() {
		http.Error(w, "a split is already running", http.StatusConflict)
		return
	}
	defer s.splitMu.Unlock()

	resp, err := s.split(r.Context(), blockSize, overlap)
	if err != nil {
		s.httpError(w, err)
		return
	}
	writeJSON(w, resp)
}

// BlockServiceServer is the gRPC API. Messages are google.protobuf.Struct.
type BlockServiceServer interface {
	Plan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Properties(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

const blockServiceName = "rasterblock.v1.BlockService"

var BlockService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: blockServiceName,
	HandlerType: (*BlockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Plan", Handler: unaryHandler("Plan", BlockServiceServer.Plan)},
		{MethodName: "Properties", Handler: unaryHandler("Properties", BlockServiceServer.Properties)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rasterblock/v1/block.proto",
}

func unaryHandler(method string, call func(BlockServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BlockServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + blockServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BlockServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func RegisterBlockServiceServer(s grpc.ServiceRegistrar, srv BlockServiceServer) {
	s.RegisterService(&BlockService_ServiceDesc, srv)
}

// toStruct converts a JSON marshalable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func grpcError(err error) error {
	if errors.Is(err, raster.ErrConfiguration) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Errorf(codes.Internal, "failed to plan: %v", err)
}

// Plan accepts the optional number fields blockSize and overlap.
func (s *Server) Plan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	blockSize, overlap := s.blockSize, s.overlap
	fields := req.GetFields()
	if v, ok := fields["blockSize"]; ok {
		n := v.GetNumberValue()
		if n != float64(int(n)) {
			return nil, status.Errorf(codes.InvalidArgument, "blockSize must be an integer, got %v", n)
		}
		blockSize = int(n)
	}
	if v, ok := fields["overlap"]; ok {
		overlap = v.GetNumberValue()
	}
	resp, err := s.planResponse(blockSize, overlap)
	if err != nil {
		return nil, grpcError(err)
	}
	out, err := toStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode plan: %v", err)
	}
	return out, nil
}

func (s *Server) Properties(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := toStruct(s.props)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode properties: %v", err)
	}
	return out, nil
}
