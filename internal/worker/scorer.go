package worker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/shaiso/Anomalix/internal/domain"
)

// Scorer оценивает событие числом в [0, 1]: чем больше, тем подозрительнее.
type Scorer interface {
	Score(ctx context.Context, event domain.Event) (float64, error)
}

// ScorerFunc позволяет использовать функцию как Scorer.
type ScorerFunc func(ctx context.Context, event domain.Event) (float64, error)

// Score вызывает f.
func (f ScorerFunc) Score(ctx context.Context, event domain.Event) (float64, error) {
	return f(ctx, event)
}

// RandomScorer — заглушка модели: равномерно случайная оценка.
type RandomScorer struct{}

// Score возвращает случайное число в [0, 1).
func (RandomScorer) Score(context.Context, domain.Event) (float64, error) {
	return rand.Float64(), nil
}

// DefaultScorer — имя scorer'а по умолчанию.
const DefaultScorer = "random"

// Registry — реестр scorer'ов по имени.
type Registry struct {
	scorers map[string]Scorer
}

// NewRegistry создаёт реестр со scorer'ами по умолчанию.
func NewRegistry() *Registry {
	r := &Registry{scorers: make(map[string]Scorer)}
	r.Register(DefaultScorer, RandomScorer{})
	return r
}

// Register добавляет scorer.
func (r *Registry) Register(name string, s Scorer) {
	r.scorers[name] = s
}

// Get возвращает scorer по имени.
func (r *Registry) Get(name string) (Scorer, error) {
	s, ok := r.scorers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScorer, name)
	}
	return s, nil
}

// Names возвращает имена зарегистрированных scorer'ов.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scorers))
	for name := range r.scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
