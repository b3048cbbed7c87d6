package smtptest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// Envelope is one message as the server received it: the SMTP envelope
// plus the raw message data, with a created timestamp so tests can
// inspect messages sent before/after a point in time.
type Envelope struct {
	From    string
	To      []string
	Body    string
	created time.Time
}

// Backend implements smtp.Backend. It hands out sessions backed by a
// shared InMemoryEmailStore.
type Backend struct {
	store *InMemoryEmailStore
}

// Login implements smtp.Backend. Any non-empty username/password pair
// is fine, since we don't want to couple this with specific test
// configurations.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if username == "" || password == "" {
		return nil, errors.New("no username or password provided")
	}
	return &session{store: be.store}, nil
}

// AnonymousLogin implements smtp.Backend. Allowed, so tests that don't
// configure credentials still work.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return &session{store: be.store}, nil
}

// session implements smtp.Session. Each connection gets its own so
// envelope state never bleeds between concurrent clients.
type session struct {
	store *InMemoryEmailStore
	from  string
	rcpts []string
}

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt implements smtp.Session. Rejects the recipient a test
// configured via RejectRecipient, accepting everything else.
func (s *session) Rcpt(to string) error {
	if s.store.rejected(to) {
		return errors.New("the server rejects this recipient")
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

// Data implements smtp.Session. Stores the envelope and message data
// in memory for retrieval at the end of the test.
func (s *session) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	str := &strings.Builder{}
	if _, err := str.Write(buf); err != nil {
		return err
	}
	s.store.saveEmail(Envelope{
		From: s.from,
		To:   s.rcpts,
		Body: str.String(),
	})
	s.Reset()
	return nil
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.rcpts = nil
}

// Logout implements smtp.Session. No-op here.
func (s *session) Logout() error { return nil }

// InMemoryEmailStore retains received envelopes in memory for
// comparison against a test's expected output. Designed to be
// goroutine safe since we don't know how many connections will be
// hitting the server at once.
type InMemoryEmailStore struct {
	mu         sync.Mutex
	messages   []Envelope
	rejectRcpt string
}

func (es *InMemoryEmailStore) saveEmail(e Envelope) {
	es.mu.Lock()
	defer es.mu.Unlock()
	e.created = time.Now()
	es.messages = append(es.messages, e)
}

func (es *InMemoryEmailStore) rejected(to string) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.rejectRcpt != "" && es.rejectRcpt == to
}

// RejectRecipient makes the server refuse RCPT commands for the given
// address, so tests can engineer a transport-level failure for one
// message in a batch.
func (es *InMemoryEmailStore) RejectRecipient(to string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.rejectRcpt = to
}

// RetrieveEmails returns the message data of everything received after
// epoch nanoseconds t.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m.Body)
		}
	}
	return r, nil
}

// Envelopes returns a copy of every received envelope in arrival
// order.
func (es *InMemoryEmailStore) Envelopes() []Envelope {
	es.mu.Lock()
	defer es.mu.Unlock()
	out := make([]Envelope, len(es.messages))
	copy(out, es.messages)
	return out
}

// InProcessServer is an SMTP server that runs in the same process as
// the test suite, letting us inspect sent emails. You must initialize
// this via NewInProcessServer.
type InProcessServer struct {
	*smtp.Server
	// Also exposed directly so tests can reach the store without going
	// through the smtp.Backend interface.
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer that stores incoming
// messages in memory. When keypath and certpath are both non-empty the
// server offers STARTTLS with that key pair; the cert must be a root
// cert. Either way insecure AUTH stays enabled so plaintext tests can
// authenticate.
func NewInProcessServer(keypath string, certpath string) *InProcessServer {
	store := &InMemoryEmailStore{}

	srv := smtp.NewServer(&Backend{store: store})
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	if keypath != "" && certpath != "" {
		cert, err := tls.LoadX509KeyPair(certpath, keypath)
		// No way to carry on without a cert, so we panic. We're in a
		// test suite, so this should be fine.
		if err != nil {
			panic(err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: store,
	}
}

// Listen grabs an ephemeral local port for the server. Call this
// before Start so the port is open by the time a test dials it.
func (is *InProcessServer) Listen() error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	is.listener = l
	is.Server.Addr = l.Addr().String()
	return nil
}

// Start serves on the listener created by Listen. Blocking.
func (is *InProcessServer) Start() error {
	return is.Server.Serve(is.listener)
}

// Close shuts down the test server. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.listener.Addr().String()
}
