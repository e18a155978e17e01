package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/audit"
	"github.com/asktra/asktra/internal/llm/types"
	"github.com/asktra/asktra/internal/reasoning/engine"
	"github.com/asktra/asktra/internal/resolver"
	apitypes "github.com/asktra/asktra/pkg/types"
)

const (
	serviceName = "asktra"

	defaultImageMIME = "image/png"
	unknownVersion   = "unknown"

	// retryAfterSeconds is sent with rate-limited responses.
	retryAfterSeconds = "60"
)

var endpoints = []string{
	"GET /health",
	"POST /ask",
	"POST /ask-stream",
	"GET /ws/ask",
	"POST /emit-docs",
	"POST /emit-reconciliation-patch",
	"POST /reconciliation-bundle",
	"GET /dataset",
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apitypes.ServiceInfo{
		Service:   serviceName,
		Status:    "ok",
		Health:    "/health",
		Endpoints: endpoints,
	})
}

// handleHealth reports liveness. An unconfigured provider is still healthy;
// reasoning requests fail with a configuration error instead.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apitypes.HealthResponse{
		Status:      "healthy",
		Service:     serviceName,
		Version:     s.config.Version,
		Provider:    s.config.Provider,
		Model:       s.config.Model,
		BundleModel: s.config.BundleModel,
		Configured:  s.config.Configured,
	})
}

// handleAsk runs the full pipeline and returns the result in one response.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}

	res, err := s.reasoner.Run(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAskResponse(res))
}

// handleAskStream runs the pipeline and streams it as server-sent events:
// progress events, then one result or error event.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming not supported", engine.KindInternal))
		return
	}

	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.reasoner.Stream(r.Context(), req) {
		kind, payload := ssePayload(ev)
		if err := writeSSE(w, kind, payload); err != nil {
			s.logger.Debug("SSE client went away", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func ssePayload(ev engine.Event) (string, interface{}) {
	switch ev.Kind {
	case engine.EventResult:
		return string(ev.Kind), toAskResponse(ev.Result)
	case engine.EventError:
		return string(ev.Kind), errorBody(ev.Error, ev.ErrorKind)
	default:
		return string(engine.EventProgress), apitypes.ProgressEvent{Message: ev.Message}
	}
}

// writeSSE writes one event frame.
func writeSSE(w io.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (s *Server) handleEmitDocs(w http.ResponseWriter, r *http.Request) {
	var req apitypes.FindingRequest
	if !s.decode(w, r, &req) {
		return
	}

	version := strings.TrimSpace(req.InferredVersion)
	if version == "" {
		version = unknownVersion
	}
	markdown, err := s.reasoner.EmitDocumentation(r.Context(), version, findingFrom(req))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.EmitDocsResponse{Markdown: markdown})
}

func (s *Server) handleEmitPatch(w http.ResponseWriter, r *http.Request) {
	var req apitypes.PatchRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.reasoner.EmitReconciliationPatch(r.Context(), engine.PatchRequest{
		FindingID:     req.FindingID,
		Target:        req.Target,
		Action:        req.Action,
		CausalSummary: req.CausalSummary,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.PatchResponse{
		Action:           res.Action,
		PatchDescription: res.PatchDescription,
		PRBody:           res.PRBody,
	})
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	var req apitypes.FindingRequest
	if !s.decode(w, r, &req) {
		return
	}

	bundle, err := s.reasoner.EmitBundle(r.Context(), engine.BundleInput{
		InferredVersion: req.InferredVersion,
		CausalFinding:   findingFrom(req),
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.BundleResponse{
		PostMortem:   bundle.PostMortem,
		PRDiff:       bundle.PRDiff,
		Summary:      bundle.Summary,
		SlackSummary: bundle.Summary,
		Fallback:     bundle.Fallback,
	})
}

// handleDataset returns the base evidence store.
func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reasoner.Dataset(r.Context()))
}

// decodeAsk decodes and validates an ask request and converts it to an
// engine request. It writes the error response itself and reports whether
// the caller should continue.
func (s *Server) decodeAsk(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var body apitypes.AskRequest
	if !s.decode(w, r, &body) {
		return engine.Request{}, false
	}
	req, err := toEngineRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), engine.KindInvalidRequest))
		return engine.Request{}, false
	}
	return req, true
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large", engine.KindInvalidRequest))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body: "+err.Error(), engine.KindInvalidRequest))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(validationMessage(err), engine.KindInvalidRequest))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// writeEngineError maps an engine error to a status code and logs it.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := engine.ErrorKind(err)
	status := statusForKind(kind)
	if kind == engine.KindRateLimited {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	fields := []zap.Field{
		zap.String("request_id", audit.GetCorrelationID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Warn("request failed", fields...)
	}
	writeJSON(w, status, errorBody(err.Error(), kind))
}

func statusForKind(kind string) int {
	switch kind {
	case engine.KindInvalidRequest:
		return http.StatusBadRequest
	case engine.KindConfiguration, engine.KindRateLimited, engine.KindEmptyBundle:
		return http.StatusServiceUnavailable
	case engine.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(msg, kind string) apitypes.ErrorResponse {
	if kind == "" {
		kind = engine.KindInternal
	}
	return apitypes.ErrorResponse{Error: msg, Kind: kind}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func toEngineRequest(body apitypes.AskRequest) (engine.Request, error) {
	req := engine.Request{
		Query:            body.Query,
		IncludeSources:   body.IncludeSources,
		DatasetOverrides: body.DatasetOverrides,
		PriorContext:     body.PriorContext,
	}

	encoded := strings.TrimSpace(body.ImageBase64)
	if encoded == "" {
		return req, nil
	}
	// Browsers send data URLs; keep only the payload.
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return engine.Request{}, fmt.Errorf("image_base64 is not valid base64: %w", err)
	}

	mime := body.ImageMIMEType
	if mime == "" {
		mime = body.ImageMIME
	}
	if mime == "" {
		mime = defaultImageMIME
	}
	req.Image = &types.Image{Data: data, MIMEType: mime}
	return req, nil
}

func findingFrom(req apitypes.FindingRequest) engine.CausalFinding {
	return engine.CausalFinding{
		RootCause:      req.RootCause,
		Contradictions: req.Contradictions,
		Risk:           req.Risk,
		FixSteps:       req.FixSteps,
		Verification:   req.Verification,
		Sources:        req.Sources,
		ReasoningTrace: req.ReasoningTrace,
		TruthGaps:      req.TruthGaps,
	}
}

func toAskResponse(res *engine.Result) *apitypes.AskResponse {
	if res == nil {
		return nil
	}
	return &apitypes.AskResponse{
		Query:             res.Query,
		InferredVersion:   res.InferredVersion,
		Confidence:        res.Confidence,
		Evidence:          nonNil(res.Evidence),
		AmbiguityNote:     res.AmbiguityNote,
		RootCause:         res.RootCause,
		Contradictions:    nonNil(res.Contradictions),
		Risk:              res.Risk,
		FixSteps:          nonNil(res.FixSteps),
		Verification:      res.Verification,
		Sources:           nonNil(res.Sources),
		SourceDetails:     toSourceDetails(res.SourceDetails),
		ReasoningTrace:    nonNil(res.ReasoningTrace),
		TruthGaps:         nonNil(res.TruthGaps),
		VerificationSteps: nonNil(res.VerificationSteps),
	}
}

func toSourceDetails(details []resolver.SourceDetail) []apitypes.SourceDetail {
	out := make([]apitypes.SourceDetail, 0, len(details))
	for _, d := range details {
		out = append(out, apitypes.SourceDetail{
			Type:    string(d.Type),
			Label:   d.Label,
			Content: d.Content,
		})
	}
	return out
}

// nonNil keeps empty lists as [] on the wire.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
