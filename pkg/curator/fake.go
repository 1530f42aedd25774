package curator

import "context"

// Fake is a deterministic curator for tests. It replays a fixed Analysis or
// RetrievalAnalysis, or fails with Err when set.
type Fake struct {
	Analysis          *Analysis
	Retrieval         *RetrievalAnalysis
	Err               error
	AnalyzedTurns     []Turn
	AnalyzedQueries   []string
}

func (f *Fake) Analyze(ctx context.Context, turn Turn) (*Analysis, error) {
	f.AnalyzedTurns = append(f.AnalyzedTurns, turn)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Analysis != nil {
		return f.Analysis, nil
	}
	return &Analysis{ShouldStore: false}, nil
}

func (f *Fake) AnalyzeRetrieval(ctx context.Context, query string) (*RetrievalAnalysis, error) {
	f.AnalyzedQueries = append(f.AnalyzedQueries, query)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Retrieval != nil {
		return f.Retrieval, nil
	}
	return &RetrievalAnalysis{
		IntentType:          "mixed",
		TemporalFocus:       "all_time",
		ConfidenceThreshold: 0.6,
		MaxResults:          10,
	}, nil
}
