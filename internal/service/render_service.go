package service

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"FundPrep/internal/model"
)

// AllFields 选择全部列
const AllFields = "*"

// 字段分隔符
const fieldSeparator = ",\n\t"

const scriptTemplate = `
{{- range .Libnames}}
LIBNAME {{.Name}} "{{.Path}}";
{{- end}}
{{range .Includes}}
%INCLUDE "{{.}}";
{{- end}}

PROC SQL;
    CREATE TABLE {{.TableOut}}(WHERE=(DATADATE GE '{{.MinDate}}'d)) AS
    SELECT {{with .Fields}}{{.}},
        {{end}}MIN(datadate) AS comp_start FORMAT YYMMDD10.
    FROM {{.TableFrom}}
    WHERE INDFMT='INDL'
    AND DATAFMT='STD'
    AND POPSRC='D'
    AND CONSOL='C'
    GROUP BY gvkey
    {{.OrderBy}};
QUIT;
{{.Extras}}
*ENDSAS;
`

// Libname SAS库声明
type Libname struct {
	Name string
	Path string
}

// RenderOptions 模板中的固定部分
type RenderOptions struct {
	Libnames []Libname
	Includes []string
	MinDate  string // SAS日期字面量，如01JAN1990
}

// DefaultRenderOptions 默认模板参数
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Libnames: []Libname{
			{Name: "comp", Path: "/data/storage/wrds/comp/"},
			{Name: "data", Path: "~/_data/big/"},
		},
		Includes: []string{
			"~/sas_macros/wrds/quarterize.sas",
			"~/sas_macros/wrds/ccm.sas",
		},
		MinDate: "01JAN1990",
	}
}

// RenderInput 单个脚本的可变部分
type RenderInput struct {
	TableOut  string
	Columns   []string
	TableFrom string
	OrderBy   string
	Extras    string
}

// Renderer 纯函数式渲染，相同输入得到逐字节相同的输出
type Renderer struct {
	opts RenderOptions
	tpl  *template.Template
}

func NewRenderer(opts RenderOptions) *Renderer {
	if opts.MinDate == "" {
		opts.MinDate = DefaultRenderOptions().MinDate
	}
	return &Renderer{
		opts: opts,
		tpl:  template.Must(template.New("script").Parse(scriptTemplate)),
	}
}

// Render 渲染脚本；列为空时只保留聚合列，日期下限和过滤条件不变
func (r *Renderer) Render(in RenderInput) (string, error) {
	if in.TableOut == "" || in.TableFrom == "" {
		return "", fmt.Errorf("table_out and table_from are required")
	}

	data := struct {
		RenderOptions
		TableOut  string
		Fields    string
		TableFrom string
		OrderBy   string
		Extras    string
	}{
		RenderOptions: r.opts,
		TableOut:      in.TableOut,
		Fields:        strings.Join(in.Columns, fieldSeparator),
		TableFrom:     in.TableFrom,
		OrderBy:       in.OrderBy,
		Extras:        in.Extras,
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", in.TableOut, err)
	}
	return buf.String(), nil
}

// SelectColumns 生成SELECT列表，alias为true时对改名列追加 AS 规范名
func SelectColumns(mappings []model.FieldMapping, alias bool) []string {
	cols := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if !m.Resolved() {
			continue
		}
		if alias && m.Aliased() {
			cols = append(cols, m.Column+" AS "+m.Canonical)
		} else {
			cols = append(cols, m.Column)
		}
	}
	return cols
}

// AnnualExtras 年度表的后处理：CCM链接
func AnnualExtras(tableOut, outputLib, linkTable string) string {
	return fmt.Sprintf("%%CCM(db_in=%s,db_out=%s.%s,\n    link_table=%s);",
		tableOut, outputLib, tableOut, linkTable)
}

// QuarterlyExtras 季度表的后处理：季度化、CCM链接、修正oancfq
func QuarterlyExtras(tableOut, outputLib, linkTable string) string {
	staged := tableOut + "2"
	out := outputLib + "." + tableOut
	return fmt.Sprintf(`%%QUARTERIZE(db_in=%s,db_out=%s,
    IDVAR=fyr gvkey);
%%CCM(db_in=%s,db_out=%s,
    link_table=%s);
DATA %s;
  SET %s;oancfq=oancfy_q;DROP oancfy_q;RUN;`,
		tableOut, staged, staged, out, linkTable, out, out)
}
