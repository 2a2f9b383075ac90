package gatewayfakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/gateway"
	"github.com/jrsteele09/go-auth-client/sessionstore"
)

var _ gateway.Gateway = (*FakeGateway)(nil)

// FetchResult scripts one FetchSession answer.
type FetchResult struct {
	Session *sessionstore.Session
	Profile *sessionstore.Profile
	Err     error
	Block   chan struct{} // When non-nil, FetchSession waits on it before returning
}

// FakeGateway is a scripted Gateway for engine tests. Fetch results are
// consumed in order; the last one repeats once the script runs out.
type FakeGateway struct {
	lock sync.Mutex

	fetchResults []FetchResult
	lastFetch    FetchResult
	fetchCalls   int

	signInSession *sessionstore.Session
	signInProfile *sessionstore.Profile
	signInErr     error
	signInCalls   int

	signOutCalls int

	subscribeCalls int
	onChange       func(gateway.Change)
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{}
}

// QueueFetch appends a scripted FetchSession result.
func (g *FakeGateway) QueueFetch(result FetchResult) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.fetchResults = append(g.fetchResults, result)
}

// SetSignIn scripts the SignIn answer.
func (g *FakeGateway) SetSignIn(session *sessionstore.Session, profile *sessionstore.Profile, err error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.signInSession = session
	g.signInProfile = profile
	g.signInErr = err
}

func (g *FakeGateway) FetchSession(ctx context.Context) (*sessionstore.Session, *sessionstore.Profile, error) {
	g.lock.Lock()
	g.fetchCalls++
	if len(g.fetchResults) > 0 {
		g.lastFetch = g.fetchResults[0]
		g.fetchResults = g.fetchResults[1:]
	}
	result := g.lastFetch
	g.lock.Unlock()

	if result.Block != nil {
		select {
		case <-result.Block:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return result.Session, result.Profile, result.Err
}

func (g *FakeGateway) SignIn(ctx context.Context, email, password string) (*sessionstore.Session, *sessionstore.Profile, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.signInCalls++
	return g.signInSession, g.signInProfile, g.signInErr
}

func (g *FakeGateway) SignOut(ctx context.Context) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.signOutCalls++
}

func (g *FakeGateway) Subscribe(onChange func(gateway.Change)) gateway.Unsubscribe {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.subscribeCalls++
	g.onChange = onChange
	return func() {
		g.lock.Lock()
		defer g.lock.Unlock()
		g.onChange = nil
	}
}

// PushChange delivers a provider push event to the registered callback.
func (g *FakeGateway) PushChange(change gateway.Change) {
	g.lock.Lock()
	onChange := g.onChange
	g.lock.Unlock()
	if onChange != nil {
		onChange(change)
	}
}

func (g *FakeGateway) FetchCalls() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.fetchCalls
}

func (g *FakeGateway) SignInCalls() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.signInCalls
}

func (g *FakeGateway) SignOutCalls() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.signOutCalls
}

func (g *FakeGateway) SubscribeCalls() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.subscribeCalls
}
