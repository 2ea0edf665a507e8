// Package directory loads the reference data of a batch from files: the
// client directory, pending adjustments and fiscal document extracts.
//
// Files are YAML or JSON. Each holds either a bare list or a map with a
// single list under "clients", "adjustments" or "documents". Every entry
// is validated before anything is returned.
//
// Example usage:
//
//	loader := directory.NewLoader()
//	clients, err := loader.LoadClients("clients.yaml")
//	adjustments, err := loader.LoadAdjustments("adjustments.yaml")
//	documents, err := loader.LoadFiscalDocuments("nfe.json")
package directory

import (
	stderrors "errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/internal/parsers"
	"store-billing-reconciler/pkg/errors"
	"store-billing-reconciler/pkg/logger"
)

const (
	keyClients     = "clients"
	keyAdjustments = "adjustments"
	keyDocuments   = "documents"
)

// Loader reads and validates directory files. It is safe for concurrent use.
type Loader struct {
	validate *validator.Validate
	logger   logger.Logger
}

// NewLoader creates a loader with the tax id and decimal rules registered.
// It panics if a rule cannot be registered.
func NewLoader() *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerRules(v, taxIDTag); err != nil {
		panic(fmt.Sprintf("directory: %v", err))
	}

	return &Loader{
		validate: v,
		logger:   logger.GetGlobalLogger().WithComponent("directory"),
	}
}

const taxIDTag = "taxid"

func registerRules(v *validator.Validate, tag string) error {
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return ValidTaxID(fl.Field().String())
	}); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "register_validation", err).
			WithContext("tag", tag)
	}
	return nil
}

// ValidTaxID reports whether s holds 11 (CPF) or 14 (CNPJ) digits once
// punctuation is removed.
func ValidTaxID(s string) bool {
	n := len(parsers.NormalizeTaxID(s))
	return n == 11 || n == 14
}

// LoadClients reads the client directory. Entries without an explicit
// active flag are active.
func (l *Loader) LoadClients(path string) ([]*models.CanonicalClient, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return l.DecodeClients(data, path)
}

// DecodeClients is LoadClients for data already in memory
func (l *Loader) DecodeClients(data []byte, source string) ([]*models.CanonicalClient, error) {
	clients, err := decodeList[models.CanonicalClient](data, source, keyClients)
	if err != nil {
		return nil, err
	}
	flags, err := decodeList[activeFlag](data, source, keyClients)
	if err != nil {
		return nil, err
	}

	out := make([]*models.CanonicalClient, len(clients))
	seen := make(map[string]int, len(clients))
	for i := range clients {
		c := &clients[i]
		if flags[i].Active == nil {
			c.Active = true
		}
		c.ID = strings.TrimSpace(c.ID)
		if err := l.check(source, keyClients, i, c); err != nil {
			return nil, err
		}
		if first, dup := seen[c.ID]; dup {
			return nil, errors.ValidationError(errors.CodeDataInconsistent, fmt.Sprintf("%s[%d].id", keyClients, i), c.ID, nil).
				WithContext("source", source).
				WithSuggestion(fmt.Sprintf("client id %s is already used by entry %d", c.ID, first))
		}
		seen[c.ID] = i
		out[i] = c
	}

	active := 0
	for _, c := range out {
		if c.Active {
			active++
		}
	}
	l.logger.WithFields(logger.Fields{
		"source":  source,
		"clients": len(out),
		"active":  active,
	}).Info("Client directory loaded")
	return out, nil
}

// activeFlag tells an omitted active flag apart from an explicit false
type activeFlag struct {
	Active *bool `yaml:"active"`
}

// LoadAdjustments reads pending adjustments. Entries without an id get a
// random one so that consumption can be reported.
func (l *Loader) LoadAdjustments(path string) ([]*models.Adjustment, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return l.DecodeAdjustments(data, path)
}

// DecodeAdjustments is LoadAdjustments for data already in memory
func (l *Loader) DecodeAdjustments(data []byte, source string) ([]*models.Adjustment, error) {
	adjustments, err := decodeList[models.Adjustment](data, source, keyAdjustments)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Adjustment, len(adjustments))
	pending := 0
	for i := range adjustments {
		a := &adjustments[i]
		a.Kind = models.AdjustmentKind(strings.ToUpper(strings.TrimSpace(string(a.Kind))))
		if strings.TrimSpace(a.ID) == "" {
			a.ID = uuid.NewString()
		}
		if err := l.check(source, keyAdjustments, i, a); err != nil {
			return nil, err
		}
		if !a.Applied {
			pending++
		}
		out[i] = a
	}

	l.logger.WithFields(logger.Fields{
		"source":      source,
		"adjustments": len(out),
		"pending":     pending,
	}).Info("Adjustments loaded")
	return out, nil
}

// LoadFiscalDocuments reads a fiscal document extract
func (l *Loader) LoadFiscalDocuments(path string) ([]*models.FiscalDocument, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return l.DecodeFiscalDocuments(data, path)
}

// DecodeFiscalDocuments is LoadFiscalDocuments for data already in memory
func (l *Loader) DecodeFiscalDocuments(data []byte, source string) ([]*models.FiscalDocument, error) {
	documents, err := decodeList[models.FiscalDocument](data, source, keyDocuments)
	if err != nil {
		return nil, err
	}

	out := make([]*models.FiscalDocument, len(documents))
	for i := range documents {
		if err := l.check(source, keyDocuments, i, &documents[i]); err != nil {
			return nil, err
		}
		out[i] = &documents[i]
	}

	l.logger.WithFields(logger.Fields{
		"source":    source,
		"documents": len(out),
	}).Info("Fiscal documents loaded")
	return out, nil
}

// MarkApplied flags the consumed adjustments as applied and returns how
// many were changed.
func MarkApplied(adjustments []*models.Adjustment, consumed []string) int {
	ids := make(map[string]bool, len(consumed))
	for _, id := range consumed {
		ids[id] = true
	}
	marked := 0
	for _, a := range adjustments {
		if a != nil && !a.Applied && ids[a.ID] {
			a.Applied = true
			marked++
		}
	}
	return marked
}

// SaveAdjustments writes adjustments in the map form read by
// LoadAdjustments.
func SaveAdjustments(path string, adjustments []*models.Adjustment) error {
	data, err := yaml.MarshalWithOptions(map[string][]*models.Adjustment{keyAdjustments: adjustments}, yaml.UseJSONMarshaler())
	if err != nil {
		return errors.InternalError(errors.CodeProcessingError, "encode_adjustments", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

// check validates one entry and reports every failing field
func (l *Loader) check(source, key string, index int, entry interface{}) error {
	err := l.validate.Struct(entry)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !stderrors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return errors.ValidationError(errors.CodeInvalidFormat, fmt.Sprintf("%s[%d]", key, index), nil, err)
	}

	failures := make(map[string]string, len(fieldErrors))
	names := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		failures[fe.Field()] = fe.Tag()
		names = append(names, fe.Field()+" ("+fe.Tag()+")")
	}
	sort.Strings(names)

	first := fieldErrors[0]
	return errors.ValidationError(errors.CodeInvalidFormat, fmt.Sprintf("%s[%d].%s", key, index, first.Field()), first.Value(), err).
		WithContext("source", source).
		WithContext("failures", failures).
		WithSuggestion("fix " + strings.Join(names, ", "))
}

// decodeList decodes either a bare list or a map holding the list under key
func decodeList[T any](data []byte, source, key string) ([]T, error) {
	var wrapped map[string][]T
	if err := yaml.UnmarshalWithOptions(data, &wrapped, yaml.UseJSONUnmarshaler()); err == nil {
		if items, ok := wrapped[key]; ok {
			return items, nil
		}
		if len(wrapped) > 0 {
			return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, key, nil).
				WithSuggestion(fmt.Sprintf("put the entries under a top-level %q key or use a bare list", key))
		}
	}

	var items []T
	if err := yaml.UnmarshalWithOptions(data, &items, yaml.UseJSONUnmarshaler()); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "", err)
	}
	return items, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if os.IsNotExist(err) {
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	if os.IsPermission(err) {
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
}
