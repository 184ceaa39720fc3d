package nfse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	domainnfse "github.com/jhoicas/nfse-gateway/internal/domain/nfse"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
	"github.com/jhoicas/nfse-gateway/internal/testutil"
)

// ── Repositorios en memoria ──────────────────────────────────────────────────

type memDocs struct {
	mu   sync.Mutex
	byID map[string]entity.Nfse
	// createHook se ejecuta antes de insertar (simula carreras del insert).
	createHook func(doc *entity.Nfse)
}

func newMemDocs(docs ...*entity.Nfse) *memDocs {
	m := &memDocs{byID: map[string]entity.Nfse{}}
	for _, d := range docs {
		m.byID[d.ID] = *d
	}
	return m
}

func (m *memDocs) get(id string) *entity.Nfse {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil
	}
	return &d
}

func (m *memDocs) FindByID(_ context.Context, id string) (*entity.Nfse, error) {
	return m.get(id), nil
}

func (m *memDocs) FindByNfseNumber(_ context.Context, businessID, number string) (*entity.Nfse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.BusinessID == businessID && d.NfseNumber != nil && *d.NfseNumber == number {
			c := d
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memDocs) FindByRpsNumber(_ context.Context, businessID, rps, series string) (*entity.Nfse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.BusinessID == businessID && d.RpsNumber == rps && d.RpsSeries == series {
			c := d
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memDocs) FindMany(_ context.Context, f repository.NfseFilter) ([]*entity.Nfse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Nfse
	for _, d := range m.byID {
		if f.BusinessID != "" && d.BusinessID != f.BusinessID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		c := d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDocs) FindByPeriod(_ context.Context, businessID string, from, to time.Time) ([]*entity.Nfse, error) {
	return nil, nil
}

func (m *memDocs) FindByCityConfiguration(_ context.Context, cityID string, statuses ...string) ([]*entity.Nfse, error) {
	return nil, nil
}

func (m *memDocs) Create(_ context.Context, doc *entity.Nfse) error {
	if m.createHook != nil {
		m.createHook(doc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.RpsKey() == doc.RpsKey() {
			return fmt.Errorf("nfse %s: %w", doc.RpsKey(), domain.ErrDuplicate)
		}
	}
	m.byID[doc.ID] = *doc
	return nil
}

func (m *memDocs) Save(_ context.Context, doc *entity.Nfse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[doc.ID]; !ok {
		return domain.ErrNotFound
	}
	m.byID[doc.ID] = *doc
	return nil
}

func (m *memDocs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memDocs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memEvents struct {
	mu     sync.Mutex
	events []*entity.NfseEvent
}

func (m *memEvents) Append(_ context.Context, ev *entity.NfseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) ListByNfse(_ context.Context, id string) ([]*entity.NfseEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.NfseEvent
	for _, e := range m.events {
		if e.NfseID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// path secuencia de estados destino registrados para id.
func (m *memEvents) path(id string) []string {
	evs, _ := m.ListByNfse(context.Background(), id)
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.ToStatus)
	}
	return out
}

type memCities struct {
	cities []*entity.CityConfiguration
}

func (m *memCities) FindByID(_ context.Context, id string) (*entity.CityConfiguration, error) {
	for _, c := range m.cities {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memCities) FindByIBGECode(_ context.Context, code string) (*entity.CityConfiguration, error) {
	for _, c := range m.cities {
		if c.IBGECode == code {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memCities) ListActive(_ context.Context) ([]*entity.CityConfiguration, error) {
	return m.cities, nil
}

// ── Cliente de transmisión guionado ──────────────────────────────────────────

type envFunc func(call int) (*entity.ResponseEnvelope, error)

type scriptedClient struct {
	transmit, cancel, substitute, query envFunc

	transmitCalls, cancelCalls, substituteCalls, queryCalls atomic.Int32
	// gate si no es nil, Transmit espera hasta que se cierre.
	gate chan struct{}
}

func (c *scriptedClient) Transmit(ctx context.Context, _ *entity.Nfse) (*entity.ResponseEnvelope, error) {
	n := int(c.transmitCalls.Add(1))
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, domain.NewTransientError("transmit", ctx.Err())
		}
	}
	return c.transmit(n)
}

func (c *scriptedClient) Cancel(_ context.Context, _ *entity.Nfse, _ entity.CancelRequest) (*entity.ResponseEnvelope, error) {
	return c.cancel(int(c.cancelCalls.Add(1)))
}

func (c *scriptedClient) Substitute(_ context.Context, _, _ *entity.Nfse, _ entity.CancelRequest) (*entity.ResponseEnvelope, error) {
	return c.substitute(int(c.substituteCalls.Add(1)))
}

func (c *scriptedClient) Query(_ context.Context, _ *entity.Nfse) (*entity.ResponseEnvelope, error) {
	n := int(c.queryCalls.Add(1))
	if c.query == nil {
		return notFound(n)
	}
	return c.query(n)
}

type staticResolver struct{ client domainnfse.TransmissionClient }

func (r staticResolver) ClientFor(context.Context, string) (domainnfse.TransmissionClient, error) {
	return r.client, nil
}

func authorizedEnv(number, code string) *entity.ResponseEnvelope {
	return &entity.ResponseEnvelope{
		Outcome:          entity.OutcomeAuthorized,
		NfseNumber:       number,
		Protocol:         "PROT-" + number,
		VerificationCode: code,
		Messages:         []entity.NfseMessage{},
		InboundXML:       "<ok/>",
	}
}

func always(env *entity.ResponseEnvelope, err error) envFunc {
	return func(int) (*entity.ResponseEnvelope, error) { return env, err }
}

func timeout(int) (*entity.ResponseEnvelope, error) {
	return nil, domain.NewTransientError("transmit", context.DeadlineExceeded)
}

func notFound(int) (*entity.ResponseEnvelope, error) {
	return &entity.ResponseEnvelope{
		Outcome:  entity.OutcomeRejected,
		Messages: []entity.NfseMessage{{Code: "E10", Message: "RPS não encontrado"}},
	}, nil
}

// ── Candado en memoria ───────────────────────────────────────────────────────

type memLocker struct {
	mu     sync.Mutex
	owners map[string]string
	// failExtend simula la pérdida del candado en el heartbeat.
	failExtend atomic.Bool
}

func newMemLocker() *memLocker { return &memLocker{owners: map[string]string{}} }

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.owners[key]; taken {
		return "", fmt.Errorf("%w: %s", domain.ErrConcurrentOperation, key)
	}
	token := uuid.New().String()
	l.owners[key] = token
	return token, nil
}

func (l *memLocker) Extend(_ context.Context, key, token string, _ time.Duration) error {
	if l.failExtend.Load() {
		return fmt.Errorf("candado %s expirado", key)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[key] != token {
		return fmt.Errorf("candado %s expirado", key)
	}
	return nil
}

func (l *memLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[key] == token {
		delete(l.owners, key)
	}
	return nil
}

func (l *memLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.owners)
}

// ── Armado ───────────────────────────────────────────────────────────────────

type harness struct {
	docs   *memDocs
	events *memEvents
	client *scriptedClient
	locker *memLocker
	coord  *LifecycleCoordinator
}

func newHarness(client *scriptedClient, docs ...*entity.Nfse) *harness {
	h := &harness{
		docs:   newMemDocs(docs...),
		events: &memEvents{},
		client: client,
		locker: newMemLocker(),
	}
	h.coord = NewLifecycleCoordinator(h.docs, h.events, staticResolver{client}, h.locker, Config{
		LockTTL:        time.Minute,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	}, nil)
	return h
}

func authorizedDoc(id, rps, number string) *entity.Nfse {
	doc := testutil.NewDraftNfse(id, rps)
	doc.Status = entity.NfseStatusAuthorized
	prot, code := "PROT-"+number, "VER"+number
	doc.NfseNumber, doc.Protocol, doc.VerificationCode = &number, &prot, &code
	return doc
}
