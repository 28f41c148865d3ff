// Package registry хранит версионированные определения workflow.
//
// Определения регистрируются при старте процесса (из файлов или кода)
// и затем только читаются. Экземпляры ссылаются на конкретную версию,
// а запуск без версии использует последнюю по semver.
package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/shaiso/Flowy/internal/domain"
	"github.com/shaiso/Flowy/internal/loader"
)

var (
	// ErrDefinitionNotFound: определение (или его версия) не зарегистрировано.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionAlreadyExists: пара (id, version) уже зарегистрирована.
	ErrDefinitionAlreadyExists = errors.New("workflow definition already exists")
)

// Registry: потокобезопасный реестр определений.
//
// Единственный путь изменения: добавление. Последняя версия не хранится
// отдельно, а вычисляется по набору версий при каждом чтении.
type Registry struct {
	mu sync.RWMutex

	// byID: id → version → определение.
	byID map[string]map[string]*domain.WorkflowDefinition

	// order: все определения в порядке добавления.
	order []*domain.WorkflowDefinition
}

// New создаёт пустой реестр.
func New() *Registry {
	return &Registry{
		byID: make(map[string]map[string]*domain.WorkflowDefinition),
	}
}

// Add регистрирует определение.
// Возвращает ErrDefinitionAlreadyExists для повторной пары (id, version).
func (r *Registry) Add(def *domain.WorkflowDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", domain.ErrInvalidDefinition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.existsLocked(def.ID, def.Version) {
		return fmt.Errorf("%w: %s", ErrDefinitionAlreadyExists, def.Key())
	}
	r.addLocked(def)
	return nil
}

// AddAll регистрирует набор определений целиком или не регистрирует ничего.
func (r *Registry) AddAll(defs ...*domain.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if def == nil {
			return fmt.Errorf("%w: nil definition", domain.ErrInvalidDefinition)
		}
		if _, dup := seen[def.Key()]; dup || r.existsLocked(def.ID, def.Version) {
			return fmt.Errorf("%w: %s", ErrDefinitionAlreadyExists, def.Key())
		}
		seen[def.Key()] = struct{}{}
	}

	for _, def := range defs {
		r.addLocked(def)
	}
	return nil
}

// LoadFile читает определение из YAML/JSON файла и регистрирует его.
func (r *Registry) LoadFile(path string) (*domain.WorkflowDefinition, error) {
	def, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := r.Add(def); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadDir читает все определения из каталога и регистрирует их.
// Если хотя бы один файл невалиден, ничего не регистрируется.
func (r *Registry) LoadDir(dir string) ([]*domain.WorkflowDefinition, error) {
	defs, err := loader.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if err := r.AddAll(defs...); err != nil {
		return nil, err
	}
	return defs, nil
}

// Get возвращает определение.
// Пустая version означает последнюю версию.
func (r *Registry) Get(id, version string) (*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byID[id]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: workflow %q is not registered", ErrDefinitionNotFound, id)
	}

	if version == "" {
		return r.latestLocked(id), nil
	}

	def, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %q has no version %q", ErrDefinitionNotFound, id, version)
	}
	return def, nil
}

// Latest возвращает последнюю версию определения.
func (r *Registry) Latest(id string) (*domain.WorkflowDefinition, error) {
	return r.Get(id, "")
}

// Has проверяет наличие определения. Пустая version: любая версия.
func (r *Registry) Has(id, version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == "" {
		return len(r.byID[id]) > 0
	}
	return r.existsLocked(id, version)
}

// Find возвращает все версии id в порядке добавления.
// Пустой id возвращает все определения.
func (r *Registry) Find(id string) []*domain.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.WorkflowDefinition, 0, len(r.order))
	for _, def := range r.order {
		if id == "" || def.ID == id {
			out = append(out, def)
		}
	}
	return out
}

// IDs возвращает ID определений в порядке первой регистрации.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.byID))
	ids := make([]string, 0, len(r.byID))
	for _, def := range r.order {
		if _, ok := seen[def.ID]; ok {
			continue
		}
		seen[def.ID] = struct{}{}
		ids = append(ids, def.ID)
	}
	return ids
}

// Count возвращает количество зарегистрированных определений (всех версий).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) existsLocked(id, version string) bool {
	_, ok := r.byID[id][version]
	return ok
}

func (r *Registry) addLocked(def *domain.WorkflowDefinition) {
	versions, ok := r.byID[def.ID]
	if !ok {
		versions = make(map[string]*domain.WorkflowDefinition)
		r.byID[def.ID] = versions
	}
	versions[def.Version] = def
	r.order = append(r.order, def)
}

// latestLocked выбирает максимальную версию id.
// При равенстве версий ("1.0" и "1.0.0") побеждает добавленная позже.
func (r *Registry) latestLocked(id string) *domain.WorkflowDefinition {
	var latest *domain.WorkflowDefinition
	for _, def := range r.order {
		if def.ID != id {
			continue
		}
		if latest == nil || CompareVersions(def.Version, latest.Version) >= 0 {
			latest = def
		}
	}
	return latest
}

// CompareVersions сравнивает две версии: -1, 0 или 1.
//
// Версии разбираются как semver ("1.2.0", "v2", "1.0"). Если хотя бы одну
// разобрать нельзя, сравниваются числовые сегменты через точку,
// а затем строки.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareSegments(a, b)
}

func compareSegments(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(a, "v"), ".")
	pb := strings.Split(strings.TrimPrefix(b, "v"), ".")

	for i := 0; i < len(pa) || i < len(pb); i++ {
		var sa, sb string
		if i < len(pa) {
			sa = pa[i]
		}
		if i < len(pb) {
			sb = pb[i]
		}
		if c := compareSegment(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

func compareSegment(a, b string) int {
	na, errA := parseUint(a)
	nb, errB := parseUint(b)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
