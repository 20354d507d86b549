package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/rlefko/codeindex/internal/apperrors"
	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/pkg/model"
)

const scrollPageSize = uint32(1000)

// QdrantStore implements Store against a Qdrant vector database.
type QdrantStore struct {
	client *qdrant.Client
	logger logging.Logger
}

// NewQdrantStore parses cfg.URL (e.g. "http://localhost:6333" or
// "https://xyz.cloud.qdrant.io:6334") into the host/port/TLS triple the
// Qdrant client wants and dials it.
func NewQdrantStore(cfg config.QdrantConfig, logger logging.Logger) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "", "vectorstore: qdrant_url is required", nil)
	}
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "", "vectorstore: invalid qdrant_url", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   host,
		Port:                   port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 useTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "", "vectorstore: failed to create qdrant client", err)
	}
	return &QdrantStore{client: client, logger: logger}, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("no host in %q", raw)
	}
	useTLS = u.Scheme == "https"
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port in %q: %w", raw, err)
		}
		return host, port, useTLS, nil
	}
	if useTLS {
		return host, 6334, true, nil
	}
	return host, 6334, false, nil
}

func (qs *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return false, apperrors.New(apperrors.CodeStoreUnavailable, collection, "vectorstore: list collections failed", err)
	}
	for _, c := range collections {
		if c == collection {
			return true, nil
		}
	}
	return false, nil
}

func (qs *QdrantStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	exists, err := qs.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperrors.New(apperrors.CodeStoreUnavailable, collection, "vectorstore: create collection failed", err)
	}
	qs.logger.Info("created collection", "collection", collection, "dim", dim)
	return nil
}

func (qs *QdrantStore) UpsertPoints(ctx context.Context, collection string, chunks []*model.EntityChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, ch := range chunks {
		points[i] = chunkToPoint(ch)
	}
	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return apperrors.New(apperrors.CodeStoreUpsert, collection, "vectorstore: upsert failed", err)
	}
	return nil
}

func (qs *QdrantStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = stringToPointID(id)
	}
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return apperrors.New(apperrors.CodeStoreUpsert, collection, "vectorstore: delete failed", err)
	}
	return nil
}

// Scroll pages through every point matching filter via cursor-based
// pagination (each page's last point ID is the next page's Offset), never
// truncating silently.
func (qs *QdrantStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int, withVectors bool) ([]*model.EntityChunk, error) {
	qFilter := buildFilter(filter)
	var out []*model.EntityChunk
	var offset *qdrant.PointId

	for {
		pageLimit := scrollPageSize
		if limit > 0 {
			remaining := limit - len(out)
			if remaining <= 0 {
				break
			}
			if remaining < int(scrollPageSize) {
				pageLimit = uint32(remaining)
			}
		}

		reqLimit := pageLimit
		if offset != nil {
			// Qdrant's offset is inclusive: the page starts with the point
			// that ended the previous one, so ask for one extra and drop it.
			reqLimit++
		}
		resp, err := qs.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         qFilter,
			Limit:          qdrant.PtrOf(reqLimit),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: withVectors}},
		})
		if err != nil {
			return nil, apperrors.New(apperrors.CodeStoreUnavailable, collection, "vectorstore: scroll failed", err)
		}
		if offset != nil && len(resp) > 0 && pointIDToString(resp[0].GetId()) == pointIDToString(offset) {
			resp = resp[1:]
		}
		for _, p := range resp {
			out = append(out, pointToChunk(p))
		}
		if len(resp) < int(pageLimit) {
			break
		}
		lastID := resp[len(resp)-1].GetId()
		if lastID == nil {
			break
		}
		offset = lastID
	}
	return out, nil
}

func (qs *QdrantStore) Count(ctx context.Context, collection string, filter *Filter) (int64, error) {
	count, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
	})
	if err != nil {
		return 0, apperrors.New(apperrors.CodeStoreUnavailable, collection, "vectorstore: count failed", err)
	}
	return int64(count), nil
}

func (qs *QdrantStore) CheckContentExists(ctx context.Context, collection, contentHash string) (bool, error) {
	if contentHash == "" {
		return false, nil
	}
	count, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{fieldMatch("content_hash", contentHash)},
		},
	})
	if err != nil {
		// A collection that does not exist yet means nothing can exist in
		// it; treat as a clean "not found" rather than an error so the
		// first-ever run of a project doesn't fail.
		exists, existsErr := qs.CollectionExists(ctx, collection)
		if existsErr == nil && !exists {
			return false, nil
		}
		return false, apperrors.New(apperrors.CodeStoreUnavailable, collection, "vectorstore: content-exists check failed", err)
	}
	return count > 0, nil
}

// UpdateFilePaths scrolls every point (no filter) and re-upserts those whose
// file_path equals one of renames' OldAbsPath, rewriting the payload in
// place while preserving the point's vector and ID. The stored point ID is
// carried over as is, so a rename leaves it unchanged even though ChunkID
// would give a different value for the new path.
func (qs *QdrantStore) UpdateFilePaths(ctx context.Context, collection string, renames []FileRename) (int, error) {
	if len(renames) == 0 {
		return 0, nil
	}
	all, err := qs.Scroll(ctx, collection, nil, 0, true)
	if err != nil {
		return 0, err
	}

	var toUpdate []*model.EntityChunk
	for _, ch := range all {
		fp, _ := ch.Metadata["file_path"].(string)
		if fp == "" {
			continue
		}
		for _, r := range renames {
			if fp == r.OldAbsPath {
				ch.Metadata["file_path"] = r.NewAbsPath
				toUpdate = append(toUpdate, ch)
				break
			}
		}
	}
	if len(toUpdate) == 0 {
		return 0, nil
	}
	if err := qs.UpsertPoints(ctx, collection, toUpdate); err != nil {
		return 0, err
	}
	return len(toUpdate), nil
}

// ClearCollection deletes every point in collection, optionally preserving
// points matching model.IsManualPayload.
func (qs *QdrantStore) ClearCollection(ctx context.Context, collection string, preserveManual bool) (int, error) {
	if !preserveManual {
		all, err := qs.Count(ctx, collection, nil)
		if err != nil {
			return 0, err
		}
		if err := qs.client.DeleteCollection(ctx, collection); err != nil {
			return 0, apperrors.New(apperrors.CodeStoreUpsert, collection, "vectorstore: delete collection failed", err)
		}
		return int(all), nil
	}

	all, err := qs.Scroll(ctx, collection, nil, 0, false)
	if err != nil {
		return 0, err
	}
	var toDelete []string
	for _, ch := range all {
		// pointToChunk lifts entity_name/entity_type out of Metadata, so put
		// them back to test the full payload.
		payload := make(map[string]any, len(ch.Metadata)+2)
		for k, v := range ch.Metadata {
			payload[k] = v
		}
		payload["entity_name"] = ch.EntityName
		payload["entity_type"] = string(ch.EntityType)
		if !model.IsManualPayload(payload) {
			toDelete = append(toDelete, ch.ID)
		}
	}
	if err := qs.DeletePoints(ctx, collection, toDelete); err != nil {
		return 0, err
	}
	return len(toDelete), nil
}

func (qs *QdrantStore) FindEntitiesForFile(ctx context.Context, collection, absPath string) ([]*model.EntityChunk, error) {
	return qs.Scroll(ctx, collection, &Filter{FilePath: absPath}, 0, true)
}

func (qs *QdrantStore) Close() error {
	return nil
}

// --- conversion helpers ---

func chunkToPoint(ch *model.EntityChunk) *qdrant.PointStruct {
	payload := make(map[string]*qdrant.Value, len(ch.Metadata)+3)
	payload["entity_name"] = stringValue(ch.EntityName)
	payload["chunk_type"] = stringValue(string(ch.ChunkType))
	payload["content"] = stringValue(ch.Content)
	if ch.EntityType != "" {
		payload["entity_type"] = stringValue(string(ch.EntityType))
	}
	for k, v := range ch.Metadata {
		payload[k] = anyToValue(v)
	}

	return &qdrant.PointStruct{
		Id:      stringToPointID(ch.ID),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: ch.Vector}}},
		Payload: payload,
	}
}

func pointToChunk(p *qdrant.RetrievedPoint) *model.EntityChunk {
	payload := p.GetPayload()
	meta := make(map[string]any, len(payload))
	for k, v := range payload {
		switch {
		case k == "entity_name", k == "chunk_type", k == "content", k == "entity_type":
			continue
		default:
			meta[k] = valueToAny(v)
		}
	}

	var vec []float32
	if vectors := p.GetVectors(); vectors != nil {
		if v := vectors.GetVector(); v != nil {
			vec = v.GetData()
		}
	}

	return &model.EntityChunk{
		ID:         pointIDToString(p.GetId()),
		EntityName: getString(payload, "entity_name"),
		EntityType: model.EntityType(getString(payload, "entity_type")),
		ChunkType:  model.ChunkType(getString(payload, "chunk_type")),
		Content:    getString(payload, "content"),
		Vector:     vec,
		Metadata:   meta,
	}
}

func buildFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var must []*qdrant.Condition
	var mustNot []*qdrant.Condition

	if f.FilePath != "" {
		must = append(must, fieldMatch("file_path", f.FilePath))
	}
	if f.ExcludeChunkType != "" {
		mustNot = append(mustNot, fieldMatch("chunk_type", string(f.ExcludeChunkType)))
	}
	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

func fieldMatch(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func anyToValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return stringValue(val)
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case []string:
		values := make([]*qdrant.Value, len(val))
		for i, s := range val {
			values[i] = stringValue(s)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	default:
		return stringValue(fmt.Sprintf("%v", val))
	}
}

func valueToAny(v *qdrant.Value) any {
	switch k := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, lv := range k.ListValue.GetValues() {
			out[i] = valueToAny(lv)
		}
		return out
	default:
		return nil
	}
}

func getString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
