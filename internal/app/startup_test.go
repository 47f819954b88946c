package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shelfbot/internal/abs"
	"shelfbot/internal/notifier"
	"shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

type fakeAuth struct {
	res abs.AuthResult
	err error
}

func (f fakeAuth) AuthTest(context.Context) (abs.AuthResult, error) { return f.res, f.err }

func TestCheckConnection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		auth    fakeAuth
		wantErr error
	}{
		{name: "admin", auth: fakeAuth{res: abs.AuthResult{Username: "root", Type: "root"}}},
		{name: "plain user", auth: fakeAuth{res: abs.AuthResult{Username: "bob", Type: "user"}}},
		{name: "locked", auth: fakeAuth{res: abs.AuthResult{Locked: true}, err: abs.ErrAccountLocked}, wantErr: ErrAccountLocked},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := checkConnection(context.Background(), tt.auth, logx.Nop())
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, "User locked from logging in, please unlock via web gui.", err.Error())
		})
	}
}

func TestCheckConnectionWrapsTransportErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("dial tcp: refused")
	err := checkConnection(context.Background(), fakeAuth{err: boom}, logx.Nop())
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrAccountLocked)
}

type fakeVersions struct {
	known    []string
	recorded []string
	listErr  error
}

func (f *fakeVersions) ListVersions(context.Context) ([]string, error) { return f.known, f.listErr }

func (f *fakeVersions) RecordVersion(_ context.Context, v string) (bool, error) {
	f.recorded = append(f.recorded, v)
	return true, nil
}

func TestReconcileVersionNew(t *testing.T) {
	t.Parallel()
	st := &fakeVersions{known: []string{"1.0.0"}}
	var sent []string
	dm := func(_ context.Context, text string) error {
		sent = append(sent, text)
		return nil
	}

	isNew, err := reconcileVersion(context.Background(), st, dm, "1.1.0", logx.Nop())
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, []string{"1.1.0"}, st.recorded)
	require.Len(t, sent, 1)
	assert.Equal(t, "New version detected! To ensure the task subscription module functions properly remove any existing tasks with command `/remove-task`! Current Version: **1.1.0**", sent[0])
}

func TestReconcileVersionKnown(t *testing.T) {
	t.Parallel()
	st := &fakeVersions{known: []string{"1.0.0", "1.1.0"}}
	dm := func(context.Context, string) error {
		t.Fatal("unexpected DM")
		return nil
	}
	isNew, err := reconcileVersion(context.Background(), st, dm, "1.1.0", logx.Nop())
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Empty(t, st.recorded)
}

func TestReconcileVersionRecordsDespiteDMFailure(t *testing.T) {
	t.Parallel()
	st := &fakeVersions{}
	dm := func(context.Context, string) error { return errors.New("dm closed") }
	isNew, err := reconcileVersion(context.Background(), st, dm, "2.0.0", logx.Nop())
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, []string{"2.0.0"}, st.recorded)
}

func TestReconcileVersionListError(t *testing.T) {
	t.Parallel()
	st := &fakeVersions{listErr: errors.New("locked")}
	_, err := reconcileVersion(context.Background(), st, nil, "2.0.0", logx.Nop())
	require.Error(t, err)
	assert.Empty(t, st.recorded)
}

type fakeQueue struct {
	err  error
	sent []transport.Notification
}

func (f *fakeQueue) Notify(_ context.Context, n transport.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type fakeDirect struct{ to []int64 }

func (f *fakeDirect) SendDirect(_ context.Context, userID int64, _ string, _ []transport.Embed) error {
	f.to = append(f.to, userID)
	return nil
}

func TestOwnerDM(t *testing.T) {
	t.Parallel()
	owner := func() int64 { return 42 }

	q, d := &fakeQueue{}, &fakeDirect{}
	require.NoError(t, ownerDM(q, d, owner)(context.Background(), "hi"))
	require.Len(t, q.sent, 1)
	assert.Equal(t, int64(42), q.sent[0].UserID)
	assert.Empty(t, d.to)

	q, d = &fakeQueue{err: notifier.ErrDisabled}, &fakeDirect{}
	require.NoError(t, ownerDM(q, d, owner)(context.Background(), "hi"))
	assert.Equal(t, []int64{42}, d.to)

	err := ownerDM(&fakeQueue{}, &fakeDirect{}, func() int64 { return 0 })(context.Background(), "hi")
	require.Error(t, err)
}
