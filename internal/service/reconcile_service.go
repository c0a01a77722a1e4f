package service

import (
	"FundPrep/internal/model"

	"github.com/sirupsen/logrus"
)

// Reconciler 将规范字段映射到各schema的实际列名
type Reconciler struct {
	fields *model.FieldSet
}

// NewReconciler 字段名按Schema的规则转为小写
func NewReconciler(fields *model.FieldSet) *Reconciler {
	if fields == nil {
		fields = model.DefaultFieldSet()
	}
	return &Reconciler{fields: fields.Normalized()}
}

// ResolveAnnual 年度表只做直接匹配
func (r *Reconciler) ResolveAnnual(field string, schema *model.Schema) (string, bool) {
	if schema.Has(field) {
		return field, true
	}
	return "", false
}

// ResolveQuarterly 依次尝试原名、各后缀，最后查不规则改名表
// 返回的列名一定存在于schema中
func (r *Reconciler) ResolveQuarterly(field string, schema *model.Schema) (string, bool) {
	if schema.Has(field) {
		return field, true
	}
	for _, suffix := range r.fields.QuarterlySuffixes {
		if schema.Has(field + suffix) {
			return field + suffix, true
		}
	}
	if renamed, ok := r.fields.QuarterlyLookup[field]; ok && schema.Has(renamed) {
		return renamed, true
	}
	return "", false
}

// Reconcile 对两个schema分别解析全部规范字段
// 未解析的字段记录为告警并从对应列表中省略
func (r *Reconciler) Reconcile(annual, quarterly *model.Schema) *model.Reconciliation {
	result := &model.Reconciliation{
		Annual:     make([]model.FieldMapping, 0, len(r.fields.Canonical)),
		Quarterly:  make([]model.FieldMapping, 0, len(r.fields.Canonical)),
		Unresolved: make([]model.UnresolvedFieldWarning, 0),
	}

	for _, field := range r.fields.Canonical {
		if col, ok := r.ResolveAnnual(field, annual); ok {
			result.Annual = append(result.Annual, model.FieldMapping{Canonical: field, Column: col})
		} else {
			result.Unresolved = append(result.Unresolved, r.warn(model.SchemaAnnual, field, nil))
		}

		if col, ok := r.ResolveQuarterly(field, quarterly); ok {
			result.Quarterly = append(result.Quarterly, model.FieldMapping{Canonical: field, Column: col})
		} else {
			result.Unresolved = append(result.Unresolved, r.warn(model.SchemaQuarterly, field, quarterly.WithPrefix(field)))
		}
	}

	logrus.Infof("[Reconciler] annual: %d/%d fields, quarterly: %d/%d fields",
		len(result.Annual), len(r.fields.Canonical), len(result.Quarterly), len(r.fields.Canonical))
	if len(result.Annual) == 0 {
		logrus.Warnf("[Reconciler] no fields resolved for %s, its job will be skipped", annual.Table)
	}
	if len(result.Quarterly) == 0 {
		logrus.Warnf("[Reconciler] no fields resolved for %s, its job will be skipped", quarterly.Table)
	}
	return result
}

func (r *Reconciler) warn(kind model.SchemaKind, field string, candidates []string) model.UnresolvedFieldWarning {
	w := model.UnresolvedFieldWarning{Schema: kind, Field: field, Candidates: candidates}
	entry := logrus.WithFields(logrus.Fields{"schema": kind, "field": field})
	if kind == model.SchemaQuarterly {
		entry = entry.WithField("candidates", candidates)
	}
	entry.Warnf("[Reconciler] unresolved field %s", w.String())
	return w
}
