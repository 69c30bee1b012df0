package search

import (
	"math/rand/v2"
	"sync"
	"time"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/metrics"
)

// MixRatios are the target shares of each pool. They are normalized by their
// sum, so 7/2/1 behaves like 0.7/0.2/0.1.
type MixRatios struct {
	Curated float64
	SourceA float64
	SourceB float64
}

func DefaultMixRatios() MixRatios {
	return MixRatios{Curated: 0.70, SourceA: 0.20, SourceB: 0.10}
}

func (r MixRatios) normalized() MixRatios {
	if r.Curated < 0 || r.SourceA < 0 || r.SourceB < 0 {
		return DefaultMixRatios()
	}
	sum := r.Curated + r.SourceA + r.SourceB
	if sum <= 0 {
		return DefaultMixRatios()
	}
	return MixRatios{Curated: r.Curated / sum, SourceA: r.SourceA / sum, SourceB: r.SourceB / sum}
}

// Mixer blends the three pools by ratio. Safe for concurrent use.
type Mixer struct {
	ratios     MixRatios
	maxResults int

	mu  sync.Mutex
	rng *rand.Rand
}

type MixerOption func(*Mixer)

// WithMaxResults caps the mixed list. Zero keeps every input product.
func WithMaxResults(n int) MixerOption {
	return func(m *Mixer) {
		if n >= 0 {
			m.maxResults = n
		}
	}
}

// NewMixer seeds the random source with seed; zero picks a time based seed.
func NewMixer(ratios MixRatios, seed uint64, opts ...MixerOption) *Mixer {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	m := &Mixer{
		ratios: ratios.normalized(),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mixer) Ratios() MixRatios {
	return m.ratios
}

// Mix returns N = |curated|+|a|+|b| products (or maxResults when smaller).
// Curated gets int(N·rc), A gets int(N·ra) and B the remainder. A pool that
// cannot fill its share hands the shortfall to the others in curated, A, B
// order. Each pool is sampled without replacement and the result is shuffled
// once.
func (m *Mixer) Mix(curated, sourceA, sourceB []domain.ProductResult) []domain.ProductResult {
	total := len(curated) + len(sourceA) + len(sourceB)
	if total == 0 {
		return []domain.ProductResult{}
	}
	if m.maxResults > 0 && total > m.maxResults {
		total = m.maxResults
	}

	pools := [3][]domain.ProductResult{curated, sourceA, sourceB}
	var want [3]int
	want[0] = int(float64(total) * m.ratios.Curated)
	want[1] = int(float64(total) * m.ratios.SourceA)
	want[2] = max(total-want[0]-want[1], 0)

	var take [3]int
	taken := 0
	for i := range pools {
		take[i] = min(want[i], len(pools[i]))
		taken += take[i]
	}
	for i := range pools {
		if taken >= total {
			break
		}
		extra := min(total-taken, len(pools[i])-take[i])
		take[i] += extra
		taken += extra
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.ProductResult, 0, taken)
	for i, pool := range pools {
		out = append(out, m.sample(pool, take[i])...)
	}
	m.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	metrics.MixedProducts.WithLabelValues(string(domain.PoolCurated)).Observe(float64(take[0]))
	metrics.MixedProducts.WithLabelValues(string(domain.PoolSourceA)).Observe(float64(take[1]))
	metrics.MixedProducts.WithLabelValues(string(domain.PoolSourceB)).Observe(float64(take[2]))
	return out
}

// sample picks k items uniformly without replacement using a partial
// Fisher-Yates over a copy. Callers hold m.mu.
func (m *Mixer) sample(pool []domain.ProductResult, k int) []domain.ProductResult {
	if k <= 0 {
		return nil
	}
	picked := append([]domain.ProductResult(nil), pool...)
	for i := 0; i < k; i++ {
		j := i + m.rng.IntN(len(picked)-i)
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked[:k]
}
