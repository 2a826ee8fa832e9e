package intervention

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ReportFields is the intervention report captured by the technician.
// This package stores and returns it but never interprets it.
type ReportFields struct {
	// Client
	ClientName  string `json:"clientName"`
	ClientPhone string `json:"clientPhone,omitempty"`
	ClientEmail string `json:"clientEmail,omitempty"`

	// Device
	DeviceType   string `json:"deviceType"`
	DeviceBrand  string `json:"deviceBrand,omitempty"`
	DeviceModel  string `json:"deviceModel,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Accessories  string `json:"accessories,omitempty"`

	// Inspection
	ProblemDescription string `json:"problemDescription"`
	DeviceCondition    string `json:"deviceCondition,omitempty"`
	Diagnosis          string `json:"diagnosis,omitempty"`
	EstimatedCost      string `json:"estimatedCost,omitempty"`

	// Risk flags
	PowersOn         bool `json:"powersOn"`
	ScreenDamaged    bool `json:"screenDamaged"`
	LiquidDamage     bool `json:"liquidDamage"`
	PreviouslyOpened bool `json:"previouslyOpened"`
	DataLossRisk     bool `json:"dataLossRisk"`
	PartsOnBackorder bool `json:"partsOnBackorder"`

	// Client authorizations
	AuthorizesDataAccess   bool `json:"authorizesDataAccess"`
	AuthorizesDiagnosisFee bool `json:"authorizesDiagnosisFee"`
	AcceptsDataLossRisk    bool `json:"acceptsDataLossRisk"`

	Notes string            `json:"notes,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// Normalized returns a copy with every free-text field trimmed and put in
// Unicode NFC form, so the same text typed on different devices compares equal.
func (r ReportFields) Normalized() ReportFields {
	out := r
	for _, f := range []*string{
		&out.ClientName, &out.ClientPhone, &out.ClientEmail,
		&out.DeviceType, &out.DeviceBrand, &out.DeviceModel, &out.SerialNumber, &out.Accessories,
		&out.ProblemDescription, &out.DeviceCondition, &out.Diagnosis, &out.EstimatedCost,
		&out.Notes,
	} {
		*f = normalizeText(*f)
	}
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[normalizeText(k)] = normalizeText(v)
		}
	}
	return out
}

// DeviceLabel returns a short human readable device description
func (r ReportFields) DeviceLabel() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.DeviceType, r.DeviceBrand, r.DeviceModel} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// MarshalReport encodes the report for persistence
func MarshalReport(r ReportFields) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// UnmarshalReport decodes a persisted report
func UnmarshalReport(data []byte) (ReportFields, error) {
	var r ReportFields
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return ReportFields{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	return r, nil
}

func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
