package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// FieldViolation is one structural problem with a record.
type FieldViolation struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ContractError reports that a record failed structural validation.
// It is a distinct kind from a policy denial: the record is malformed,
// not forbidden.
type ContractError struct {
	Type       string           `json:"type"`
	Violations []FieldViolation `json:"violations"`
}

func (e *ContractError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Problem)
	}
	return fmt.Sprintf("contract: invalid %s: %s", e.Type, strings.Join(parts, "; "))
}

// validator accumulates field violations for one record.
type validator struct {
	typ        string
	violations []FieldViolation
}

func newValidator(typ string) *validator {
	return &validator{typ: typ}
}

func (v *validator) add(field, format string, args ...any) {
	v.violations = append(v.violations, FieldViolation{Field: field, Problem: fmt.Sprintf(format, args...)})
}

func (v *validator) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "required")
	}
}

func (v *validator) unit(field string, value float64) {
	if value < 0 || value > 1 {
		v.add(field, "must be within [0,1], got %v", value)
	}
}

func (v *validator) nonNegative(field string, value int64) {
	if value < 0 {
		v.add(field, "must not be negative, got %d", value)
	}
}

func (v *validator) tier(field string, t PermissionTier) {
	if !t.Valid() {
		v.add(field, "unknown permission tier %q", t)
	}
}

func (v *validator) class(field string, c TaskClass) {
	if !c.Valid() {
		v.add(field, "unknown task class %q", c)
	}
}

func (v *validator) impact(field string, i ActionImpact) {
	if !i.Valid() {
		v.add(field, "unknown action impact %q", i)
	}
}

// nested folds the violations of a child record in under field.
func (v *validator) nested(field string, err error) {
	if err == nil {
		return
	}
	var ce *ContractError
	if !errors.As(err, &ce) {
		v.add(field, "%v", err)
		return
	}
	for _, fv := range ce.Violations {
		v.add(field+"."+fv.Field, "%s", fv.Problem)
	}
}

func (v *validator) err() error {
	if len(v.violations) == 0 {
		return nil
	}
	return &ContractError{Type: v.typ, Violations: v.violations}
}

// DecodeStrict decodes JSON into v and rejects unknown keys and trailing data.
func DecodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("contract: strict decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("contract: strict decode: trailing data after value")
	}
	return nil
}

// containsFold reports whether list contains s (case-insensitive) or the "*" wildcard.
func containsFold(list []string, s string) bool {
	for _, item := range list {
		if item == "*" || strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// Grants reports whether a grant list admits value. "*" grants everything.
func Grants(list []string, value string) bool {
	return containsFold(list, value)
}

// Lists reports whether list names value exactly (case-insensitive), ignoring wildcards.
func Lists(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
