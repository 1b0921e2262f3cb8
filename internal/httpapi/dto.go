package httpapi

import (
	"github.com/opsbridge/msigbridge/internal/coordinator"
	"github.com/opsbridge/msigbridge/internal/storage"
)

func operationTypeName(t storage.OperationType) string {
	switch t {
	case storage.OpCreateUtxos:
		return "CreateUtxos"
	case storage.OpIssuance:
		return "Issuance"
	case storage.OpSendRgb:
		return "SendRgb"
	case storage.OpSendBtc:
		return "SendBtc"
	case storage.OpInflation:
		return "Inflation"
	case storage.OpBlindReceive:
		return "BlindReceive"
	case storage.OpWitnessReceive:
		return "WitnessReceive"
	default:
		return "Unknown"
	}
}

func statusName(s storage.OperationStatus) string {
	switch s {
	case storage.StatusPending:
		return "Pending"
	case storage.StatusApproved:
		return "Approved"
	case storage.StatusDiscarded:
		return "Discarded"
	default:
		return "Unknown"
	}
}

func fileTypeName(t storage.OpFileType) string {
	switch t {
	case storage.FileConsignment:
		return "Consignment"
	case storage.FileMedia:
		return "Media"
	case storage.FileOperationData:
		return "OperationData"
	case storage.FilePsbt:
		return "Psbt"
	default:
		return "Unknown"
	}
}

// fileMetadataDTO mirrors the original's FileMetadata wire shape.
type fileMetadataDTO struct {
	FileID       string `json:"file_id"`
	Type         string `json:"type"`
	PostedByXpub string `json:"posted_by_xpub"`
	SizeBytes    int64  `json:"size_bytes"`
}

// operationResponseDTO mirrors the original's OperationResponse wire shape.
type operationResponseDTO struct {
	OperationIdx  int64             `json:"operation_idx"`
	InitiatorXpub string            `json:"initiator_xpub"`
	CreatedAt     int64             `json:"created_at"`
	OperationType string            `json:"operation_type"`
	Status        string            `json:"status"`
	AckedBy       []string          `json:"acked_by"`
	NackedBy      []string          `json:"nacked_by"`
	Threshold     *uint8            `json:"threshold,omitempty"`
	MyResponse    *bool             `json:"my_response,omitempty"`
	ProcessedAt   *int64            `json:"processed_at,omitempty"`
	Files         []fileMetadataDTO `json:"files"`
}

func toOperationResponseDTO(v *coordinator.OperationView) operationResponseDTO {
	dto := operationResponseDTO{
		OperationIdx:  v.OperationIdx,
		InitiatorXpub: v.InitiatorXpub,
		CreatedAt:     v.CreatedAt,
		OperationType: operationTypeName(v.OperationType),
		Status:        statusName(v.Status),
		AckedBy:       v.AckedBy,
		NackedBy:      v.NackedBy,
		Threshold:     v.Threshold,
		MyResponse:    v.MyResponse,
		ProcessedAt:   v.ProcessedAt,
		Files:         make([]fileMetadataDTO, 0, len(v.Files)),
	}
	for _, f := range v.Files {
		dto.Files = append(dto.Files, fileMetadataDTO{
			FileID:       f.FileID,
			Type:         fileTypeName(f.Type),
			PostedByXpub: f.PostedByXpub,
			SizeBytes:    f.SizeBytes,
		})
	}
	return dto
}

type infoResponseDTO struct {
	MinRgbLibVersion string `json:"min_rgb_lib_version"`
	MaxRgbLibVersion string `json:"max_rgb_lib_version"`
	RgbLibVersion    string `json:"rgb_lib_version"`
	LastOperationIdx *int64 `json:"last_operation_idx,omitempty"`
}

type currentAddressIndicesDTO struct {
	Internal *uint64 `json:"internal,omitempty"`
	External *uint64 `json:"external,omitempty"`
}

type bumpAddressIndicesRequestDTO struct {
	Count    uint8 `json:"count"`
	Internal bool  `json:"internal"`
}

type bumpAddressIndicesResponseDTO struct {
	First uint32 `json:"first"`
}

type postOperationResponseDTO struct {
	OperationIdx int64 `json:"operation_idx"`
}

type respondToOperationRequestDTO struct {
	OperationIdx int64 `json:"operation_idx"`
	Ack          bool  `json:"ack"`
}

type markOperationProcessedRequestDTO struct {
	OperationIdx int64 `json:"operation_idx"`
}

type getOperationByIdxRequestDTO struct {
	OperationIdx int64 `json:"operation_idx"`
}

type getFileRequestDTO struct {
	FileID string `json:"file_id"`
}

type getLastProcessedOpIdxResponseDTO struct {
	OperationIdx int64 `json:"operation_idx"`
}
