package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/cubetile/internal/batch"
	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/logger"
	"github.com/samcharles93/cubetile/internal/opdesc"
)

func (s *Server) handleCreateTiling(c *echo.Context) error {
	desc, err := decodeJSON[opdesc.Descriptor](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	params, err := desc.Param(s.platforms, s.defaultPlatform)
	if err != nil {
		return writeTilingError(c, "", err)
	}

	ctx := c.Request().Context()
	start := s.clock()
	tiling, err := s.tiler.GenTiling(ctx, &params)
	if err != nil {
		logger.FromContext(ctx).Info("tiling request failed", "op", params.OpType, "error", err)
		return writeTilingError(c, "", err)
	}
	resp, err := s.newResponse(desc.Label(), &params, tiling, s.clock().Sub(start).Microseconds())
	if err != nil {
		return writeTilingError(c, "", err)
	}
	return c.JSON(http.StatusOK, s.store.Put(resp))
}

func (s *Server) newResponse(label string, params *cubetiling.CubeTilingParam, tiling cubetiling.CubeTiling, elapsed int64) (TilingResponse, error) {
	fields, err := cubetiling.DecodeTilingID(params.OpType, tiling.TilingID)
	if err != nil {
		return TilingResponse{}, err
	}
	return TilingResponse{
		CreatedAt:     s.clock().Unix(),
		Label:         label,
		OpType:        params.OpType,
		Platform:      params.Platform.SocVersion,
		Tiling:        tiling,
		IDFields:      fields,
		Record:        tiling.ABIFields(),
		ElapsedMicros: elapsed,
	}, nil
}

func (s *Server) handleBatch(c *echo.Context) error {
	req, err := decodeJSON[BatchRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Descriptors) == 0 {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "descriptors must not be empty", "descriptors", "")
	}
	if len(req.Descriptors) > s.maxBatch {
		msg := fmt.Sprintf("batch of %d exceeds the limit of %d", len(req.Descriptors), s.maxBatch)
		return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "descriptors", "")
	}
	parallelism := s.parallelism
	if req.Parallelism > 0 && (parallelism <= 0 || req.Parallelism < parallelism) {
		parallelism = req.Parallelism
	}

	// Descriptors that fail to convert are reported in place; the rest run
	// as one batch.
	out := BatchResponse{Object: "batch", Items: make([]BatchItem, len(req.Descriptors))}
	var items []batch.Item
	var slots []int
	var failed []batch.Result
	for i := range req.Descriptors {
		d := &req.Descriptors[i]
		out.Items[i] = BatchItem{Index: i, Label: d.Label()}
		params, err := d.Param(s.platforms, s.defaultPlatform)
		if err != nil {
			out.Items[i].Error = responseError(err)
			failed = append(failed, batch.Result{Index: i, Err: err})
			continue
		}
		items = append(items, batch.Item{Label: d.Label(), Params: params})
		slots = append(slots, i)
	}

	results := batch.Run(c.Request().Context(), s.tiler, items, parallelism)
	for j, r := range results {
		slot := slots[j]
		if r.Err != nil {
			out.Items[slot].Error = responseError(r.Err)
			continue
		}
		resp, err := s.newResponse(r.Label, &items[j].Params, r.Tiling, r.Duration.Microseconds())
		if err != nil {
			out.Items[slot].Error = responseError(err)
			results[j].Err = err
			continue
		}
		stored := s.store.Put(resp)
		out.Items[slot].Tiling = &stored
	}

	sum := batch.Summarize(append(results, failed...))
	out.Summary = BatchSummary{
		Total:     sum.Total,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Fallbacks: sum.Fallbacks,
		ByStage:   sum.ByStage,
	}
	return c.JSON(http.StatusOK, out)
}

func responseError(err error) *ResponseError {
	_, errType, code := classify(err)
	return &ResponseError{Message: err.Error(), Type: errType, Code: code}
}

func (s *Server) handleGetTiling(c *echo.Context) error {
	resp, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "tiling not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteTiling(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "tiling not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "object": "tiling.deleted", "deleted": true})
}

func (s *Server) handleDecodeID(c *echo.Context) error {
	req, err := decodeJSON[DecodeIDRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if strings.TrimSpace(req.OpType) == "" {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "op_type is required", "op_type", "")
	}
	op := cubetiling.OpType(strings.TrimSpace(req.OpType))
	fields, err := cubetiling.DecodeTilingID(op, req.TilingID)
	if err != nil {
		return writeTilingError(c, "op_type", err)
	}
	return c.JSON(http.StatusOK, DecodeIDResponse{OpType: op, TilingID: req.TilingID, Fields: fields})
}
