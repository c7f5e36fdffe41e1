package mirror

import (
	"context"
	"iter"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
)

func (m *Mirror) fetchAll(ctx context.Context, tenantID string, kind gateway.Kind, params gateway.Params) iter.Seq2[[]gateway.Record, error] {
	return m.fetchBatches(ctx, tenantID, kind, [][]string{nil}, params)
}

// fetchScoped splits ids into batches of BatchSize and fetches every page of
// each batch. Batches are fetched FetchConcurrency at a time but always
// yielded in batch order. An empty id list yields nothing.
func (m *Mirror) fetchScoped(ctx context.Context, tenantID string, kind gateway.Kind, ids []string, params gateway.Params) iter.Seq2[[]gateway.Record, error] {
	unique := common.Dedupe(common.Filter(ids, func(id string) bool { return id != "" }))
	if len(unique) == 0 {
		return func(yield func([]gateway.Record, error) bool) {}
	}
	return m.fetchBatches(ctx, tenantID, kind, common.Chunk(unique, m.Settings.BatchSize), params)
}

func (m *Mirror) fetchBatches(ctx context.Context, tenantID string, kind gateway.Kind, batches [][]string, params gateway.Params) iter.Seq2[[]gateway.Record, error] {
	return func(yield func([]gateway.Record, error) bool) {
		logger := common.GetTenantLogger(common.LoggerCategoryChunker, tenantID,
			zap.String(common.LoggerFieldKind, string(kind)))

		window := max(m.Settings.FetchConcurrency, 1)
		for start := 0; start < len(batches); start += window {
			end := min(start+window, len(batches))

			results := make([][]gateway.Record, end-start)
			errs := make([]error, end-start)
			g, gctx := errgroup.WithContext(ctx)
			for i := start; i < end; i++ {
				g.Go(func() error {
					records, err := m.fetchPages(gctx, tenantID, kind, batches[i], params)
					results[i-start] = records
					errs[i-start] = err
					return err
				})
			}
			// the first error cancels the rest of the window; report it at
			// the earliest failing position so nothing after it is yielded
			rootErr := g.Wait()

			for i, records := range results {
				if errs[i] != nil {
					logger.Error("Batch fetch failed",
						zap.Int("batch", start+i),
						zap.Int("batches", len(batches)),
						zap.Error(rootErr))
					yield(nil, rootErr)
					return
				}
				logger.Debug("Batch fetched",
					zap.Int("batch", start+i),
					zap.Int("batches", len(batches)),
					zap.Int("records", len(records)))
				if !yield(records, nil) {
					return
				}
			}
		}
	}
}

// fetchPages walks the pages of one scoped query. Paging stops on an empty
// page, a short page, or once the reported total has been read.
func (m *Mirror) fetchPages(ctx context.Context, tenantID string, kind gateway.Kind, ids []string, params gateway.Params) ([]gateway.Record, error) {
	pageSize := max(m.Settings.PageSize, 1)
	scoped := params
	scoped.IDs = ids
	scoped.Limit = pageSize

	var records []gateway.Record
	for offset := 0; ; offset += pageSize {
		scoped.Offset = offset
		page, err := m.Gateway.List(ctx, tenantID, kind, scoped)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if len(page.Records) < pageSize {
			break
		}
		if page.Total >= 0 && len(records) >= page.Total {
			break
		}
	}
	return records, nil
}

type IChunkerImpl struct {
	mirror *Mirror
}

func (ic *IChunkerImpl) FetchAll(ctx context.Context, tenantID string, kind gateway.Kind, params gateway.Params) iter.Seq2[[]gateway.Record, error] {
	return ic.mirror.fetchAll(ctx, tenantID, kind, params)
}

func (ic *IChunkerImpl) FetchScoped(ctx context.Context, tenantID string, kind gateway.Kind, ids []string, params gateway.Params) iter.Seq2[[]gateway.Record, error] {
	return ic.mirror.fetchScoped(ctx, tenantID, kind, ids, params)
}

func (m *Mirror) GetIChunker() IChunker {
	return &IChunkerImpl{mirror: m}
}
