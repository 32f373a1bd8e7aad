package api

import (
	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/opdesc"
)

// TilingResponse is one generated tiling.
type TilingResponse struct {
	ID        string                `json:"id"`
	Object    string                `json:"object"`
	CreatedAt int64                 `json:"created_at"`
	Label     string                `json:"label,omitempty"`
	OpType    cubetiling.OpType     `json:"op_type"`
	Platform  string                `json:"platform"`
	Tiling    cubetiling.CubeTiling `json:"tiling"`
	IDFields  []cubetiling.IDField  `json:"id_fields"`

	// Record holds the serialized kernel fields in layout order.
	Record        []int32 `json:"record"`
	ElapsedMicros int64   `json:"elapsed_us"`
}

type BatchRequest struct {
	Descriptors []opdesc.Descriptor `json:"descriptors"`
	Parallelism int                 `json:"parallelism,omitempty"`
}

type BatchItem struct {
	Index  int             `json:"index"`
	Label  string          `json:"label,omitempty"`
	Tiling *TilingResponse `json:"tiling,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

type BatchSummary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Fallbacks int            `json:"fallbacks"`
	ByStage   map[string]int `json:"by_stage,omitempty"`
}

type BatchResponse struct {
	Object  string       `json:"object"`
	Items   []BatchItem  `json:"items"`
	Summary BatchSummary `json:"summary"`
}

type DecodeIDRequest struct {
	OpType   string `json:"op_type"`
	TilingID uint64 `json:"tiling_id"`
}

type DecodeIDResponse struct {
	OpType   cubetiling.OpType    `json:"op_type"`
	TilingID uint64               `json:"tiling_id"`
	Fields   []cubetiling.IDField `json:"fields"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ListResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}
