package repository

import (
	"context"

	"FundPrep/internal/cache/lru"
	"FundPrep/internal/model"

	"github.com/sirupsen/logrus"
)

// CachedSchemaReader 以数据源指纹为key缓存列名
// 底层reader未实现Fingerprinter时直接透传
type CachedSchemaReader struct {
	reader SchemaReader
	cache  *lru.Cache[*model.Schema]
}

func NewCachedSchemaReader(reader SchemaReader, cache *lru.Cache[*model.Schema]) *CachedSchemaReader {
	return &CachedSchemaReader{reader: reader, cache: cache}
}

// ReadSchema 实现SchemaReader
func (r *CachedSchemaReader) ReadSchema(ctx context.Context, table string) (*model.Schema, error) {
	fp, ok := r.reader.(Fingerprinter)
	if !ok {
		return r.reader.ReadSchema(ctx, table)
	}

	key, err := fp.Fingerprint(table)
	if err != nil {
		// 指纹失败通常是文件缺失，交给底层reader给出SchemaReadError
		return r.reader.ReadSchema(ctx, table)
	}

	if schema, ok := r.cache.Get(key); ok {
		logrus.Debugf("[SchemaCache] hit: %s", table)
		return schema, nil
	}

	schema, err := r.reader.ReadSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, schema)
	logrus.Debugf("[SchemaCache] miss: %s, cached %d columns", table, len(schema.Columns))
	return schema, nil
}

// Stats 缓存命中统计
func (r *CachedSchemaReader) Stats() lru.Stats {
	return r.cache.Stats()
}
