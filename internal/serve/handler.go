package serve

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/models"
	"github.com/gftdcojp/artgate/internal/record"
	"github.com/gftdcojp/artgate/internal/service"
	"github.com/gftdcojp/artgate/internal/submission"
	"github.com/gftdcojp/artgate/internal/types"
	"github.com/gftdcojp/artgate/pkg/client"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderPrincipal carries the caller identity on HTTP requests.
const HeaderPrincipal = "X-Artgate-Principal"

const headerRequestID = "X-Request-Id"

type handler struct {
	svc     *service.Service
	maxBody int64
	logger  *zap.Logger
}

// NewHandler builds the HTTP API.
func NewHandler(svc *service.Service, cfg config.APIConfig, logger *zap.Logger) http.Handler {
	h := &handler{
		svc:     svc,
		maxBody: int64(cfg.MaxBodyBytes),
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.route("status", h.handleStatus))

	mux.HandleFunc("POST /v1/submissions", h.route("start", h.handleStart))
	mux.HandleFunc("GET /v1/submissions", h.route("list_submissions", h.handleListSubmissions))
	mux.HandleFunc("GET /v1/submissions/{id}", h.route("get_submission", h.handleGetSubmission))
	mux.HandleFunc("PUT /v1/submissions/{id}/chunks/{index}", h.route("put_chunk", h.handlePutChunk))
	mux.HandleFunc("POST /v1/submissions/{id}/finalize", h.route("finalize", h.handleFinalize))
	mux.HandleFunc("POST /v1/submissions/{id}/detect", h.route("detect", h.handleDetect))
	mux.HandleFunc("POST /v1/submissions/{id}/verify", h.route("verify", h.handleVerify))

	mux.HandleFunc("GET /v1/records", h.route("list_records", h.handleListRecords))
	mux.HandleFunc("GET /v1/records/count", h.route("record_count", h.handleRecordCount))
	mux.HandleFunc("GET /v1/records/{id}", h.route("get_record", h.handleGetRecord))
	mux.HandleFunc("GET /v1/records/{id}/image", h.route("get_record_image", h.handleGetRecordImage))

	mux.HandleFunc("GET /v1/faces", h.route("list_faces", h.handleListFaces))
	mux.HandleFunc("GET /v1/faces/count", h.route("face_count", h.handleFaceCount))
	mux.HandleFunc("GET /v1/faces/{label}", h.route("get_face", h.handleGetFace))
	mux.HandleFunc("PUT /v1/faces/{label}", h.route("enroll", h.handleEnroll))
	mux.HandleFunc("DELETE /v1/faces/{label}", h.route("remove_face", h.handleRemoveFace))

	mux.HandleFunc("GET /v1/models", h.route("model_stats", h.handleModelStats))
	mux.HandleFunc("POST /v1/models/setup", h.route("setup_models", h.handleSetupModels))
	mux.HandleFunc("GET /v1/models/{kind}", h.route("model_bytes", h.handleModelBytes))
	mux.HandleFunc("POST /v1/models/{kind}", h.route("append_model", h.handleAppendModel))
	mux.HandleFunc("DELETE /v1/models/{kind}", h.route("clear_model", h.handleClearModel))

	mux.HandleFunc("GET /v1/regions", h.route("region_stats", h.handleRegionStats))
	mux.HandleFunc("POST /v1/admin/snapshot", h.route("snapshot", h.handleSnapshot))
	mux.HandleFunc("GET /v1/admin/snapshots", h.route("list_snapshots", h.handleListSnapshots))
	mux.HandleFunc("POST /v1/admin/restore/{region}", h.route("restore", h.handleRestore))

	return h.withRequestID(mux)
}

// RunHTTP starts the HTTP API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, svc *service.Service, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: NewHandler(svc, cfg, logger),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *handler) route(op string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := service.WithSource(r.Context(), "http")
		fn(rec, r.WithContext(ctx))
		metrics.APIRequests.WithLabelValues("http", op, strconv.Itoa(rec.status)).Inc()
	}
}

func (h *handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("http request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func principalFrom(r *http.Request) types.Principal {
	if p := strings.TrimSpace(r.Header.Get(HeaderPrincipal)); p != "" {
		return types.Principal(p)
	}
	return types.Anonymous
}

func pathUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, invalid("invalid " + name)
	}
	return v, nil
}

func (h *handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, invalid("request body too large")
		}
		return nil, invalid("reading request body: " + err.Error())
	}
	return data, nil
}

func (h *handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalid("invalid JSON: " + err.Error())
	}
	return nil
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"submissions": len(h.svc.ListSubmissions(ctx)),
		"faces":       h.svc.FaceCount(ctx),
		"records":     h.svc.RecordCount(ctx),
	})
}

func (h *handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.StartSubmission(r.Context(), principalFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (h *handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs := h.svc.ListSubmissions(r.Context())
	if subs == nil {
		subs = []submission.Info{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	info, err := h.svc.GetSubmission(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		h.writeError(w, invalid("invalid index"))
		return
	}
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	stored, err := h.svc.PutChunk(r.Context(), id, index, data)
	if err != nil {
		if errorCode(err) == client.CodeInternal {
			err = invalid(err.Error())
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stored": stored})
}

type finalizeBody struct {
	MIMEType string `json:"mime_type"`
	Size     uint64 `json:"size"`
	SHA256   string `json:"sha256"`
}

func parseMetadata(mime string, size uint64, sum string) (submission.Metadata, error) {
	md := submission.Metadata{MIMEType: mime, Size: size}
	if sum != "" {
		b, err := hex.DecodeString(sum)
		if err != nil {
			return md, invalid("sha256 must be hex")
		}
		md.SHA256 = b
	}
	return md, nil
}

func (h *handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body finalizeBody
	if err := h.decodeJSON(w, r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	md, err := parseMetadata(body.MIMEType, body.Size, body.SHA256)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ok, err := h.svc.Finalize(r.Context(), id, md)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"finalized": ok})
}

func (h *handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	box, err := h.svc.RunDetection(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, box)
}

func (h *handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	recordID, err := h.svc.VerifyAndStore(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"record_id": recordID})
}

func (h *handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.ListRecords(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []record.Record{}
	}
	if withImages, _ := strconv.ParseBool(r.URL.Query().Get("images")); !withImages {
		for i := range recs {
			recs[i].Image = nil
		}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) handleRecordCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.svc.RecordCount(r.Context())})
}

func (h *handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) handleGetRecordImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", rec.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.Image)))
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Image)
}

func (h *handler) handleListFaces(w http.ResponseWriter, r *http.Request) {
	if withVectors, _ := strconv.ParseBool(r.URL.Query().Get("vectors")); withVectors {
		writeJSON(w, http.StatusOK, h.svc.Faces(r.Context()))
		return
	}
	labels := h.svc.ListFaces(r.Context())
	if labels == nil {
		labels = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"labels": labels})
}

func (h *handler) handleFaceCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.svc.FaceCount(r.Context())})
}

func (h *handler) handleGetFace(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	v, err := h.svc.Face(r.Context(), label)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"label": label, "vector": v})
}

// handleEnroll takes a JSON {"vector": [...]} body, or any other content
// type as an image to embed.
func (h *handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	var (
		v   []float32
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Vector []float32 `json:"vector"`
		}
		if err := h.decodeJSON(w, r, &body); err != nil {
			h.writeError(w, err)
			return
		}
		v, err = h.svc.EnrollVector(r.Context(), label, body.Vector)
	} else {
		data, rerr := h.readBody(w, r)
		if rerr != nil {
			h.writeError(w, rerr)
			return
		}
		v, err = h.svc.EnrollImage(r.Context(), label, data)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"label": label, "vector": v})
}

func (h *handler) handleRemoveFace(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveFace(r.Context(), r.PathValue("label")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) modelKind(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	k, err := models.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, err)
		return 0, false
	}
	return k, true
}

func (h *handler) handleModelStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ModelStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) handleModelBytes(w http.ResponseWriter, r *http.Request) {
	k, ok := h.modelKind(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ModelBytes(r.Context(), k)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *handler) handleAppendModel(w http.ResponseWriter, r *http.Request) {
	k, ok := h.modelKind(w, r)
	if !ok {
		return
	}
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	size, err := h.svc.AppendModel(r.Context(), k, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"model": k.String(), "size": size})
}

func (h *handler) handleClearModel(w http.ResponseWriter, r *http.Request) {
	k, ok := h.modelKind(w, r)
	if !ok {
		return
	}
	if err := h.svc.ClearModel(r.Context(), k); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleSetupModels(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SetupModels(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (h *handler) handleRegionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.RegionStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.SnapshotRegions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	var region *types.RegionID
	if name := r.URL.Query().Get("region"); name != "" {
		id, ok := types.ParseRegion(name)
		if !ok {
			h.writeError(w, invalid("unknown region "+name))
			return
		}
		region = &id
	}
	entries, err := h.svc.ListSnapshots(r.Context(), region)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, ok := types.ParseRegion(r.PathValue("region"))
	if !ok {
		h.writeError(w, invalid("unknown region "+r.PathValue("region")))
		return
	}
	entry, err := h.svc.RestoreRegion(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
