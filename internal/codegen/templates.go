package codegen

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/events.go.tmpl
var eventsTemplate string

//go:embed templates/handler.go.tmpl
var handlerTemplate string

//go:embed templates/migration.sql.tmpl
var migrationTemplate string

// reservedRecordColumns are the bookkeeping columns every event-record table
// carries. Event parameters must not collide with them.
var reservedRecordColumns = map[string]bool{
	"id":               true,
	"contract_address": true,
	"block_number":     true,
	"tx_hash":          true,
	"log_index":        true,
}

// fieldModel is one event parameter resolved for rendering: the Go and SQL
// names, the meddler tag and the expression extracting the value from a log.
type fieldModel struct {
	GoName     string
	GoType     string
	JSONName   string
	Column     string
	ColumnType string
	MeddlerTag string
	ParseExpr  string
}

// eventModel is one event resolved for rendering. The *Decl and *Fields
// slices hold fully aligned source lines so the templates stay flat.
type eventModel struct {
	Name             string
	RecordType       string
	Signature        string
	Table            string
	TopicCount       int
	DataBytes        int
	Fields           []fieldModel
	SigDecl          string
	TopicDecl        string
	StructFields     []string
	RecordFields     []string
	ParseAssignments []string
	ApplyAssignments []string
}

// kindModel is the payload rendered into the three generated files.
type kindModel struct {
	Kind           string
	HumanKind      string
	KindConst      string
	HandlerType    string
	FactoryName    string
	EventsVar      string
	Tables         string
	Events         []eventModel
	EventsMapLines []string
	DownDrops      []string
	DecodeImports  string
	HandlerImports string
}

// RenderDecodeFile renders the event structs and parse functions that land
// in internal/decode.
func RenderDecodeFile(model *kindModel) (string, error) {
	return renderTemplate("events", eventsTemplate, model)
}

// RenderHandlerFile renders the handler kind file that lands in
// internal/handler.
func RenderHandlerFile(model *kindModel) (string, error) {
	return renderTemplate("handler", handlerTemplate, model)
}

// RenderMigration renders the migration creating the event-record tables.
func RenderMigration(model *kindModel) (string, error) {
	return renderTemplate("migration", migrationTemplate, model)
}

func renderTemplate(name, text string, model *kindModel) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, model); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}

	return buf.String(), nil
}

// buildKindModel resolves the parsed events of one handler kind into the
// template payload.
func buildKindModel(kind, modulePath string, events []*EventSignature) (*kindModel, error) {
	kindPascal := ToPascalCase(kind)

	model := &kindModel{
		Kind:        kind,
		HumanKind:   strings.ReplaceAll(kind, "_", " "),
		KindConst:   "Kind" + kindPascal,
		HandlerType: kindPascal + "Handler",
		FactoryName: "New" + kindPascal + "Handler",
		EventsVar:   ToLowerCamelCase(kind) + "Events",
	}

	needsBig := false
	needsCommon := false
	tables := make([]string, 0, len(events))

	for _, sig := range events {
		ev, err := buildEventModel(kind, sig)
		if err != nil {
			return nil, err
		}

		for _, field := range ev.Fields {
			if field.GoType == "*big.Int" {
				needsBig = true
			}
			if field.GoType == "common.Address" || field.GoType == "common.Hash" {
				needsCommon = true
			}
		}

		tables = append(tables, ev.Table)
		model.Events = append(model.Events, *ev)
	}

	sigRows := make([][]string, 0, len(model.Events))
	topicRows := make([][]string, 0, len(model.Events))
	mapRows := make([][]string, 0, len(model.Events))
	for _, ev := range model.Events {
		sigRows = append(sigRows, []string{ev.Name + "Sig", `= "` + ev.Signature + `"`})
		topicRows = append(topicRows, []string{ev.Name + "Topic", "= crypto.Keccak256Hash([]byte(" + ev.Name + "Sig))"})
		mapRows = append(mapRows, []string{"decode." + ev.Name + "Sig:", "decode." + ev.Name + "Topic,"})
	}

	sigLines := alignRows(sigRows)
	topicLines := alignRows(topicRows)
	for i := range model.Events {
		model.Events[i].SigDecl = sigLines[i]
		model.Events[i].TopicDecl = topicLines[i]
	}
	model.EventsMapLines = alignRows(mapRows)

	model.Tables = `"` + strings.Join(tables, `", "`) + `"`
	model.DownDrops = make([]string, 0, len(tables))
	for i := len(tables) - 1; i >= 0; i-- {
		model.DownDrops = append(model.DownDrops, tables[i])
	}

	model.DecodeImports = renderDecodeImports(needsBig, needsCommon)
	model.HandlerImports = renderHandlerImports(modulePath, needsBig)

	return model, nil
}

func buildEventModel(kind string, sig *EventSignature) (*eventModel, error) {
	data := sig.NonIndexedParams()

	ev := &eventModel{
		Name:       sig.Name,
		RecordType: sig.Name + "Record",
		Signature:  sig.CanonicalSignature(),
		Table:      TableName(kind, sig.Name),
		TopicCount: 1 + len(sig.IndexedParams()),
		DataBytes:  32 * len(data),
	}

	goNames := make(map[string]string)
	columns := make(map[string]string)

	topicIdx := 0
	dataWord := 0
	for _, param := range sig.Params {
		field := fieldModel{
			GoName:     GoFieldName(param.Name),
			GoType:     GoTypeName(param.Type),
			JSONName:   JSONFieldName(param.Name),
			Column:     DBFieldName(param.Name),
			ColumnType: ColumnType(param.Type),
			MeddlerTag: MeddlerTag(param),
		}

		if reservedRecordColumns[field.Column] {
			return nil, fmt.Errorf("event %s: parameter %q maps to the reserved column %q", sig.Name, param.Name, field.Column)
		}
		if other, dup := goNames[field.GoName]; dup {
			return nil, fmt.Errorf("event %s: parameters %q and %q map to the same Go field %s", sig.Name, other, param.Name, field.GoName)
		}
		if other, dup := columns[field.Column]; dup {
			return nil, fmt.Errorf("event %s: parameters %q and %q map to the same column %s", sig.Name, other, param.Name, field.Column)
		}
		goNames[field.GoName] = param.Name
		columns[field.Column] = param.Name

		if param.Indexed {
			topicIdx++
			field.ParseExpr = topicParseExpr(param.Type, topicIdx)
		} else {
			field.ParseExpr = dataParseExpr(param.Type, dataWord, len(data))
			dataWord++
		}

		ev.Fields = append(ev.Fields, field)
	}

	structRows := make([][]string, 0, len(ev.Fields))
	parseRows := make([][]string, 0, len(ev.Fields))
	recordRows := [][]string{
		{"ID", "int64", "`meddler:\"id,pk\"`"},
		{"ContractAddress", "common.Address", "`meddler:\"contract_address,address\"`"},
	}
	applyRows := [][]string{
		{"ContractAddress:", "h.address,"},
	}

	for _, field := range ev.Fields {
		structRows = append(structRows, []string{field.GoName, field.GoType, "`json:\"" + field.JSONName + "\"`"})
		parseRows = append(parseRows, []string{field.GoName + ":", field.ParseExpr + ","})
		recordRows = append(recordRows, []string{field.GoName, field.GoType, "`" + field.MeddlerTag + "`"})
		applyRows = append(applyRows, []string{field.GoName + ":", "ev." + field.GoName + ","})
	}

	recordRows = append(recordRows,
		[]string{"BlockNumber", "uint64", "`meddler:\"block_number\"`"},
		[]string{"TxHash", "common.Hash", "`meddler:\"tx_hash,hash\"`"},
		[]string{"LogIndex", "uint", "`meddler:\"log_index\"`"},
	)
	applyRows = append(applyRows,
		[]string{"BlockNumber:", "at.BlockNumber,"},
		[]string{"TxHash:", "at.TxHash,"},
		[]string{"LogIndex:", "at.LogIndex,"},
	)

	ev.StructFields = alignRows(structRows)
	ev.ParseAssignments = alignRows(parseRows)
	ev.RecordFields = alignRows(recordRows)
	ev.ApplyAssignments = alignRows(applyRows)

	return ev, nil
}

// topicParseExpr returns the expression extracting an indexed parameter from
// its log topic, written the way the parsers in internal/decode extract
// theirs.
func topicParseExpr(solType string, topic int) string {
	switch solType {
	case "address":
		return fmt.Sprintf("common.BytesToAddress(log.Topics[%d].Bytes())", topic)
	case "bytes32":
		return fmt.Sprintf("log.Topics[%d]", topic)
	case "bool":
		return fmt.Sprintf("log.Topics[%d][31] != 0", topic)
	default:
		return fmt.Sprintf("new(big.Int).SetBytes(log.Topics[%d].Bytes())", topic)
	}
}

// dataParseExpr returns the expression extracting a non-indexed parameter
// from its 32-byte data word.
func dataParseExpr(solType string, word, totalWords int) string {
	if solType == "bool" {
		if totalWords == 1 {
			return "log.Data[31] != 0"
		}
		return fmt.Sprintf("log.Data[%d] != 0", word*32+31)
	}

	src := dataSlice(word, totalWords)
	switch solType {
	case "address":
		return "common.BytesToAddress(" + src + ")"
	case "bytes32":
		return "common.BytesToHash(" + src + ")"
	default:
		return "new(big.Int).SetBytes(" + src + ")"
	}
}

func dataSlice(word, totalWords int) string {
	switch {
	case totalWords == 1:
		return "log.Data"
	case word == 0:
		return "log.Data[:32]"
	case word == totalWords-1:
		return fmt.Sprintf("log.Data[%d:]", word*32)
	default:
		return fmt.Sprintf("log.Data[%d:%d]", word*32, word*32+32)
	}
}

// alignRows pads every column except the last so multi-line declarations and
// composite literals come out the way gofmt aligns them.
func alignRows(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}

	var widths []int
	for _, row := range rows {
		for i, cell := range row[:len(row)-1] {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)+1))
		}
		lines = append(lines, b.String())
	}

	return lines
}

func renderDecodeImports(needsBig, needsCommon bool) string {
	var b strings.Builder
	b.WriteString("import (\n")
	if needsBig {
		b.WriteString("\t\"math/big\"\n\n")
	}
	if needsCommon {
		b.WriteString("\t\"github.com/ethereum/go-ethereum/common\"\n")
	}
	b.WriteString("\t\"github.com/ethereum/go-ethereum/core/types\"\n")
	b.WriteString("\t\"github.com/ethereum/go-ethereum/crypto\"\n")
	b.WriteString(")")

	return b.String()
}

func renderHandlerImports(modulePath string, needsBig bool) string {
	var b strings.Builder
	b.WriteString("import (\n")
	b.WriteString("\t\"context\"\n")
	b.WriteString("\t\"database/sql\"\n")
	b.WriteString("\t\"fmt\"\n")
	if needsBig {
		b.WriteString("\t\"math/big\"\n")
	}
	b.WriteString("\n")
	b.WriteString("\t\"github.com/ethereum/go-ethereum/common\"\n")
	b.WriteString("\t\"github.com/ethereum/go-ethereum/core/types\"\n")
	b.WriteString("\t\"github.com/russross/meddler\"\n")
	b.WriteString("\n")
	b.WriteString("\t\"" + modulePath + "/internal/decode\"\n")
	b.WriteString("\t\"" + modulePath + "/internal/logger\"\n")
	b.WriteString("\t\"" + modulePath + "/pkg/config\"\n")
	b.WriteString("\t\"" + modulePath + "/pkg/indexer\"\n")
	b.WriteString(")")

	return b.String()
}
