package offlinegw

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ControlPrefix = "/__gateway/"
	ClientCookie  = "gw_client"

	clientIdleTimeout = 30 * 24 * time.Hour
	maxControlBody    = 64 << 10
	maxForwardBody    = 32 << 20
)

// forwarder is implemented by networks that can pass non-cacheable requests
// through with their body.
type forwarder interface {
	Forward(ctx context.Context, req Request, body []byte) (Response, error)
}

type Service struct {
	cfg Config

	store Store
	net   Network

	reg     *Registration
	control *Control
	events  *Events

	ownsStore bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	stats *statsCollector
}

type Option func(*Service)

// WithStore replaces the configured storage backend. The caller keeps
// ownership of store.
func WithStore(store Store) Option { return func(s *Service) { s.store = store } }

func WithNetwork(net Network) Option { return func(s *Service) { s.net = net } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.events.Notifier = n } }

func WithWindowOpener(o WindowOpener) Option { return func(s *Service) { s.events.Opener = o } }

func WithDataSync(p DataSyncProvider) Option { return func(s *Service) { s.events.Sync = p } }

func NewService(cfg Config, opts ...Option) (*Service, error) {
	reg := NewRegistration()
	s := &Service{
		cfg:     cfg,
		reg:     reg,
		control: NewControl(reg, cfg.ReleaseInfo()),
		events: &Events{
			Title:        cfg.Notifications.Title,
			FallbackBody: cfg.Notifications.FallbackBody,
			RootURL:      cfg.Notifications.RootURL,
			Notifier:     LogNotifier{},
			Opener:       LogOpener{},
			Sync:         LogSync{},
		},
		stopCh: make(chan struct{}),
		stats:  newStatsCollector(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		store, err := OpenStore(cfg)
		if err != nil {
			return nil, err
		}
		s.store = store
		s.ownsStore = true
	}
	if s.net == nil {
		s.net = NewOriginNetwork(cfg.Server.Origin, nil)
	}
	return s, nil
}

// Start installs the configured release and starts the background loops. An
// install error is returned, but the service stays usable and passes requests
// straight to the network until a release activates.
func (s *Service) Start(ctx context.Context) error {
	err := s.reg.Register(ctx, s.newWorker(s.cfg))

	every := s.cfg.Dynamic.sweepEveryDur
	if every > 0 {
		logrus.Infof("[EVICT] sweep interval %s, max %d dynamic entries", every, s.cfg.Dynamic.MaxEntries)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.evictLoop(every)
		}()
	}
	if s.cfg.Logging.logStatsEveryDur > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(s.cfg.Logging.logStatsEveryDur)
		}()
	}
	return err
}

// Upgrade registers a worker for cfg's release when it differs from the
// active one.
func (s *Service) Upgrade(ctx context.Context, cfg Config) error {
	if w := s.reg.Active(); w != nil && w.Release() == cfg.ReleaseInfo() {
		logrus.Infof("[LIFECYCLE] %s already active", w.Release().CacheName())
		return nil
	}
	s.cfg.Release = cfg.Release
	s.cfg.Precache = cfg.Precache
	s.cfg.Lifecycle = cfg.Lifecycle
	return s.reg.Register(ctx, s.newWorker(cfg))
}

func (s *Service) newWorker(cfg Config) *Worker {
	return NewWorker(s.store, s.net, WorkerOptions{
		Release:     cfg.ReleaseInfo(),
		StaticFiles: cfg.Precache,
		SkipWaiting: cfg.SkipWaiting(),
	})
}

func (s *Service) Registration() *Registration { return s.reg }

func (s *Service) Close() {
	s.once.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if s.ownsStore {
			if err := s.store.Close(); err != nil {
				logrus.WithError(err).Warn("close store")
			}
		}
	})
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ControlPrefix+"message", s.handleMessage)
	mux.HandleFunc("POST "+ControlPrefix+"push", s.handlePush)
	mux.HandleFunc("POST "+ControlPrefix+"notificationclick", s.handleNotificationClick)
	mux.HandleFunc("POST "+ControlPrefix+"sync", s.handleSync)
	mux.HandleFunc("/", s.handle)
	return mux
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	clientID := ensureClientID(w, r)
	req := Request{
		Method:      r.Method,
		URI:         r.URL.RequestURI(),
		Destination: inferDestination(r),
		Header:      r.Header,
	}

	if !req.Cacheable() {
		s.passThrough(w, r, req)
		return
	}

	worker := s.reg.Controller(clientID)
	if worker == nil {
		s.passThrough(w, r, req)
		return
	}

	res, err := worker.HandleFetch(r.Context(), req)
	if err != nil {
		if !errors.Is(err, ErrNoResponse) {
			logrus.WithError(err).Errorf("[FETCH] %s failed", req.Key())
		}
		s.stats.ObserveNoResponse()
		setGatewayHeaders(w.Header(), "no-response", worker)
		http.Error(w, "no response available", http.StatusGatewayTimeout)
		return
	}
	writeResponse(w, res.Response, string(res.Source), worker)
	s.stats.Observe(res.Source, len(res.Response.Body))
}

func (s *Service) passThrough(w http.ResponseWriter, r *http.Request, req Request) {
	var (
		resp Response
		err  error
	)
	if f, ok := s.net.(forwarder); ok {
		var body []byte
		if r.Body != nil {
			body, err = io.ReadAll(io.LimitReader(r.Body, maxForwardBody))
			if err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
		}
		resp, err = f.Forward(r.Context(), req, body)
	} else {
		resp, err = s.net.Fetch(r.Context(), req)
	}
	if err != nil {
		setGatewayHeaders(w.Header(), "bad-gateway", nil)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeResponse(w, resp, string(SourceBypass), nil)
	s.stats.Observe(SourceBypass, len(resp.Body))
}

func ensureClientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ClientCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientIdleTimeout / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func writeResponse(w http.ResponseWriter, resp Response, source string, worker *Worker) {
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "x-gateway") || strings.EqualFold(k, "x-gateway-version") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setGatewayHeaders(w.Header(), source, worker)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func setGatewayHeaders(h http.Header, source string, worker *Worker) {
	if source != "" {
		h.Set("X-Gateway", source)
	}
	ensureExposedHeader(h, "X-Gateway")
	if worker != nil {
		h.Set("X-Gateway-Version", worker.Release().CacheName())
		ensureExposedHeader(h, "X-Gateway-Version")
	}
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

// ---- control and event endpoints ----

type httpReplier struct {
	w       http.ResponseWriter
	replied bool
}

func (r *httpReplier) Reply(v any) error {
	r.replied = true
	r.w.Header().Set("Content-Type", "application/json")
	r.w.WriteHeader(http.StatusOK)
	return json.NewEncoder(r.w).Encode(v)
}

func decodeJSONBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(v)
}

func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := decodeJSONBody(r, &msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	rep := &httpReplier{w: w}
	if err := s.control.Handle(r.Context(), msg, rep); err != nil {
		logrus.WithError(err).Warn("[CONTROL] reply failed")
	}
	if !rep.replied {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) handlePush(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.events.Push(r.Context(), strings.TrimSpace(string(b)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := decodeJSONBody(r, &body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	s.events.NotificationClick(r.Context(), body.Action)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tag string `json:"tag"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	s.events.PeriodicSync(r.Context(), body.Tag)
	w.WriteHeader(http.StatusNoContent)
}

// ---- background loops ----

func (s *Service) evictLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	w := s.reg.Active()
	if w == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	name := w.Release().DynamicCache()
	removed, err := Sweep(ctx, s.store, name, s.cfg.Dynamic.MaxEntries)
	if err != nil {
		logrus.WithError(err).Warn("[EVICT] sweep failed")
	} else if removed > 0 {
		logrus.Infof("[EVICT] removed %d entries from %s", removed, name)
	}
	if n := s.reg.PruneClients(ctx, time.Now().Add(-clientIdleTimeout)); n > 0 {
		logrus.Debugf("[EVICT] forgot %d idle clients", n)
	}
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			dynamic := 0
			if w := s.reg.Active(); w != nil {
				keys, err := s.store.Keys(context.Background(), w.Release().DynamicCache())
				if err == nil {
					dynamic = len(keys)
				}
			}
			s.stats.log(dynamic, s.reg.Clients())
		}
	}
}
