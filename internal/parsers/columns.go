package parsers

import (
	"sort"
	"strings"

	"store-billing-reconciler/internal/models"
	"store-billing-reconciler/pkg/errors"
)

// Field is a logical record field resolved from one sheet column
type Field string

const (
	FieldProfessionalName        Field = "professional_name"
	FieldPhone                   Field = "phone"
	FieldRegionCode              Field = "region_code"
	FieldStoreName               Field = "store_name"
	FieldRoleLabel               Field = "role_label"
	FieldCancellationDate        Field = "cancellation_date"
	FieldCancellationReason      Field = "cancellation_reason"
	FieldCancellationResponsible Field = "cancellation_responsible"
	FieldScheduledAt             Field = "scheduled_at"
	FieldStartedAt               Field = "started_at"
	FieldCompletedAt             Field = "completed_at"
	FieldStartTime               Field = "start_time"
	FieldEndTime                 Field = "end_time"
	FieldExternalRef             Field = "external_ref"
	FieldAmount                  Field = "amount"
	FieldDuration                Field = "duration"
	FieldStatusLabel             Field = "status_label"
	FieldTaxID                   Field = "tax_id"
)

// FieldOrder is the order in which fields claim headers. More specific
// fields come first so that, for example, "data de cancelamento" is claimed
// by the cancellation date before any generic date alias can see it.
var FieldOrder = []Field{
	FieldAmount,
	FieldCancellationDate,
	FieldCancellationReason,
	FieldCancellationResponsible,
	FieldScheduledAt,
	FieldStartedAt,
	FieldCompletedAt,
	FieldStartTime,
	FieldEndTime,
	FieldDuration,
	FieldProfessionalName,
	FieldStoreName,
	FieldTaxID,
	FieldPhone,
	FieldRegionCode,
	FieldRoleLabel,
	FieldStatusLabel,
	FieldExternalRef,
}

// ColumnAliases maps each logical field to the header spellings accepted
// for it, most preferred first. Aliases are compared after NormalizeName.
type ColumnAliases map[Field][]string

// DefaultColumnAliases returns the Portuguese and English header spellings
// seen on the billing spreadsheets.
func DefaultColumnAliases() ColumnAliases {
	return ColumnAliases{
		FieldProfessionalName:        {"profissional", "nome do profissional", "nome profissional", "colaborador", "professional", "professional name"},
		FieldPhone:                   {"telefone", "celular", "whatsapp", "phone"},
		FieldRegionCode:              {"ddd", "regiao", "region", "region code"},
		FieldStoreName:               {"loja", "nome da loja", "estabelecimento", "cliente", "store", "store name"},
		FieldRoleLabel:               {"funcao", "cargo", "role"},
		FieldCancellationDate:        {"data cancelamento", "data de cancelamento", "cancelado em", "cancellation date"},
		FieldCancellationReason:      {"motivo cancelamento", "motivo do cancelamento", "motivo", "cancellation reason"},
		FieldCancellationResponsible: {"responsavel cancelamento", "responsavel pelo cancelamento", "cancelado por", "cancellation responsible"},
		FieldScheduledAt:             {"agendado em", "data agendamento", "agendamento", "scheduled at"},
		FieldStartedAt:               {"iniciado em", "check-in", "checkin", "started at"},
		FieldCompletedAt:             {"concluido em", "finalizado em", "check-out", "checkout", "completed at"},
		FieldStartTime:               {"inicio", "data inicio", "hora inicio", "data/hora inicio", "start", "start time"},
		FieldEndTime:                 {"fim", "termino", "data fim", "hora fim", "data/hora fim", "end", "end time"},
		FieldExternalRef:             {"id", "referencia", "codigo", "ref", "reference", "external ref"},
		FieldAmount:                  {"valor", "valor total", "valor bruto", "valor (r$)", "amount", "gross amount", "total"},
		FieldDuration:                {"horas", "duracao", "horas trabalhadas", "carga horaria", "duration", "hours"},
		FieldStatusLabel:             {"status", "situacao"},
		FieldTaxID:                   {"cnpj", "cpf/cnpj", "cnpj da loja", "documento", "tax id"},
	}
}

// Clone returns a deep copy of the alias table
func (a ColumnAliases) Clone() ColumnAliases {
	clone := make(ColumnAliases, len(a))
	for field, aliases := range a {
		clone[field] = append([]string(nil), aliases...)
	}
	return clone
}

// ColumnMap is the result of resolving the alias table against one header
// list. It is computed once per batch and then used as a typed accessor.
type ColumnMap struct {
	headers []string
	columns map[Field]string
}

// Headers returns the header list the map was resolved against
func (m ColumnMap) Headers() []string {
	return append([]string(nil), m.headers...)
}

// Header returns the raw header resolved for a field
func (m ColumnMap) Header(field Field) (string, bool) {
	h, ok := m.columns[field]
	return h, ok
}

// Has reports whether the field was resolved
func (m ColumnMap) Has(field Field) bool {
	_, ok := m.columns[field]
	return ok
}

// Get returns the row value for a field, or nil when unresolved
func (m ColumnMap) Get(row models.Row, field Field) any {
	h, ok := m.columns[field]
	if !ok {
		return nil
	}
	return row[h]
}

// String returns the trimmed text of a field
func (m ColumnMap) String(row models.Row, field Field) string {
	return CellString(m.Get(row, field))
}

// Resolved returns a copy of the field to header mapping
func (m ColumnMap) Resolved() map[Field]string {
	out := make(map[Field]string, len(m.columns))
	for k, v := range m.columns {
		out[k] = v
	}
	return out
}

// ResolveColumns matches headers to fields. Exact matches (case and accent
// insensitive) are tried first for every field, then headers containing an
// alias. The first hit in alias order wins and a header claimed by one field
// is never reused. Aliases shorter than minSubstring only take part in the
// exact pass. A required field that stays unresolved is a fatal
// configuration error.
func ResolveColumns(source string, headers []string, aliases ColumnAliases, required []Field, minSubstring int) (ColumnMap, error) {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeName(h)
	}

	claimed := make(map[int]bool)
	columns := make(map[Field]string)

	claim := func(field Field, match func(header, alias string) bool, minLen int) {
		if _, done := columns[field]; done {
			return
		}
		for _, alias := range aliases[field] {
			a := NormalizeName(alias)
			if a == "" || len(a) < minLen {
				continue
			}
			for i, h := range normalized {
				if claimed[i] || h == "" {
					continue
				}
				if match(h, a) {
					claimed[i] = true
					columns[field] = headers[i]
					return
				}
			}
		}
	}

	order := fieldOrder(aliases)
	for _, field := range order {
		claim(field, func(h, a string) bool { return h == a }, 0)
	}
	for _, field := range order {
		claim(field, strings.Contains, minSubstring)
	}

	for _, field := range required {
		if _, ok := columns[field]; !ok {
			return ColumnMap{}, errors.MissingColumnError(source, string(field), aliases[field], headers)
		}
	}

	return ColumnMap{headers: append([]string(nil), headers...), columns: columns}, nil
}

// fieldOrder returns FieldOrder followed by any extra fields present in the
// alias table.
func fieldOrder(aliases ColumnAliases) []Field {
	order := append([]Field(nil), FieldOrder...)
	known := make(map[Field]bool, len(order))
	for _, f := range order {
		known[f] = true
	}
	var extra []Field
	for f := range aliases {
		if !known[f] {
			extra = append(extra, f)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(order, extra...)
}
