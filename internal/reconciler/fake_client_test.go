package reconciler

import (
	"context"

	"github.com/makeev/ingestd/internal/broker"
)

// fakeClient implements broker.Client, returning a fixed, scripted history
// response so gap-fill tests can exercise loadIntervalsFromBroker without a
// real portal.
type fakeClient struct {
	points []broker.HistoryPoint
}

func (f *fakeClient) LoadSession(ctx context.Context) error { return nil }
func (f *fakeClient) HistoryRequest(ctx context.Context, conid int, periodMinutes int) ([]broker.HistoryPoint, error) {
	return f.points, nil
}
func (f *fakeClient) SocketURL() string                 { return "" }
func (f *fakeClient) Cookie(name string) (string, error) { return "", nil }
func (f *fakeClient) SSOValidate(ctx context.Context) (string, bool, error) {
	return "", true, nil
}
func (f *fakeClient) IServerAuthStatus(ctx context.Context) (bool, bool, error) {
	return true, false, nil
}
func (f *fakeClient) InitIServerSession(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeClient) PortalLogout(ctx context.Context) error               { return nil }
func (f *fakeClient) SSOLogout(ctx context.Context) error                  { return nil }
func (f *fakeClient) ObtainSession(ctx context.Context) (bool, error)      { return true, nil }
func (f *fakeClient) KeepSessionAlive(ctx context.Context) error           { return nil }

var _ broker.Client = (*fakeClient)(nil)
