package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/record"
	"github.com/gftdcojp/artgate/internal/service"
	"github.com/gftdcojp/artgate/internal/types"
	"github.com/gftdcojp/artgate/pkg/client"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const responderQueue = "artgate"

type responder struct {
	svc    *service.Service
	prefix string
	logger *zap.Logger
}

// RunNATSResponder serves the service over NATS request-reply.
// Subject pattern: {prefix}.{op}, where op is one of the client.Op* names.
func RunNATSResponder(ctx context.Context, nc *nats.Conn, cfg config.NATSResponderConfig, svc *service.Service, logger *zap.Logger) error {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = client.DefaultSubjectPrefix
	}
	r := &responder{svc: svc, prefix: prefix, logger: logger}

	subject := prefix + ".>"
	sub, err := nc.QueueSubscribe(subject, responderQueue, func(msg *nats.Msg) {
		r.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	logger.Info("NATS responder started", zap.String("subject", subject))

	<-ctx.Done()
	sub.Unsubscribe()
	return nil
}

func (r *responder) handle(ctx context.Context, msg *nats.Msg) {
	op := strings.TrimPrefix(msg.Subject, r.prefix+".")
	ctx = service.WithSource(ctx, "nats")

	result, err := r.dispatch(ctx, op, msg)
	var resp client.Response
	status := "ok"
	if err != nil {
		resp.Code = errorCode(err)
		resp.Error = err.Error()
		status = resp.Code
		if resp.Code == client.CodeInternal {
			r.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		}
	} else if result != nil {
		data, merr := json.Marshal(result)
		if merr != nil {
			resp.Code = client.CodeInternal
			resp.Error = merr.Error()
			status = resp.Code
		} else {
			resp.Result = data
		}
	}
	metrics.APIRequests.WithLabelValues("nats", op, status).Inc()

	out, _ := json.Marshal(resp)
	if err := msg.Respond(out); err != nil {
		r.logger.Warn("responding failed", zap.String("op", op), zap.Error(err))
	}
}

func (r *responder) dispatch(ctx context.Context, op string, msg *nats.Msg) (any, error) {
	switch op {
	case client.OpStart:
		id, err := r.svc.StartSubmission(ctx, principalOf(msg))
		if err != nil {
			return nil, err
		}
		return client.StartResult{ID: id}, nil

	case client.OpChunk:
		id, err := strconv.ParseUint(msg.Header.Get(client.HeaderSubmission), 10, 64)
		if err != nil {
			return nil, invalid("invalid " + client.HeaderSubmission + " header")
		}
		index, err := strconv.Atoi(msg.Header.Get(client.HeaderIndex))
		if err != nil || index < 0 {
			return nil, invalid("invalid " + client.HeaderIndex + " header")
		}
		stored, err := r.svc.PutChunk(ctx, id, index, msg.Data)
		if err != nil {
			if errorCode(err) == client.CodeInternal {
				err = invalid(err.Error())
			}
			return nil, err
		}
		return client.ChunkResult{Stored: stored}, nil

	case client.OpFinalize:
		var req client.FinalizeRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		md, err := parseMetadata(req.MIMEType, req.Size, req.SHA256)
		if err != nil {
			return nil, err
		}
		ok, err := r.svc.Finalize(ctx, req.ID, md)
		if err != nil {
			return nil, err
		}
		return client.FinalizeResult{Finalized: ok}, nil

	case client.OpSubmission:
		var req client.IDRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return r.svc.GetSubmission(ctx, req.ID)

	case client.OpDetect:
		var req client.IDRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return r.svc.RunDetection(ctx, req.ID)

	case client.OpVerify:
		var req client.IDRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		recordID, err := r.svc.VerifyAndStore(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return client.VerifyResult{RecordID: recordID}, nil

	case client.OpEnroll:
		var req client.EnrollRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		v, err := r.svc.EnrollVector(ctx, req.Label, req.Vector)
		if err != nil {
			return nil, err
		}
		return client.EnrollResult{Label: req.Label, Vector: v}, nil

	case client.OpEnrollImage:
		label := msg.Header.Get(client.HeaderLabel)
		v, err := r.svc.EnrollImage(ctx, label, msg.Data)
		if err != nil {
			return nil, err
		}
		return client.EnrollResult{Label: label, Vector: v}, nil

	case client.OpRemoveFace:
		var req client.LabelRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return nil, r.svc.RemoveFace(ctx, req.Label)

	case client.OpFaces:
		labels := r.svc.ListFaces(ctx)
		if labels == nil {
			labels = []string{}
		}
		return client.LabelsResult{Labels: labels}, nil

	case client.OpFaceCount:
		return client.CountResult{Count: r.svc.FaceCount(ctx)}, nil

	case client.OpRecord:
		var req client.IDRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return r.svc.GetRecord(ctx, req.ID)

	case client.OpRecords:
		var req client.ListRecordsRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		recs, err := r.svc.ListRecords(ctx)
		if err != nil {
			return nil, err
		}
		if recs == nil {
			recs = []record.Record{}
		}
		if !req.Images {
			for i := range recs {
				recs[i].Image = nil
			}
		}
		return recs, nil

	case client.OpRecordCount:
		return client.CountResult{Count: r.svc.RecordCount(ctx)}, nil

	case client.OpRegions:
		return r.svc.RegionStats(ctx)

	default:
		return nil, invalid("unknown operation " + op)
	}
}

// decode unmarshals an optional JSON body. An empty body leaves v zeroed.
func decode(msg *nats.Msg, v any) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return invalid("invalid JSON: " + err.Error())
	}
	return nil
}

func principalOf(msg *nats.Msg) types.Principal {
	if msg.Header != nil {
		if p := strings.TrimSpace(msg.Header.Get(client.HeaderPrincipal)); p != "" {
			return types.Principal(p)
		}
	}
	return types.Anonymous
}
