package credential

import (
	"context"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailflow/pkg/types"
)

var account = types.Account{ID: "work-mail", Email: "me@example.org"}

func TestKeyring(t *testing.T) {
	ctx := context.Background()
	k := NewKeyring(keyring.NewArrayKeyring(nil))

	_, ok, err := k.GetPassword(ctx, account)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, k.SetPassword(account, "s3cret"))
	p, ok, err := k.GetPassword(ctx, account)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s3cret", p)

	require.NoError(t, k.DeletePassword(account))
	_, ok, err = k.GetPassword(ctx, account)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyringUsesPasswordKey(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{
		{Key: "mailflow:email:password:work-mail", Data: []byte("from-ring")},
	})
	p, ok, err := NewKeyring(ring).GetPassword(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-ring", p)
}

func TestEnv(t *testing.T) {
	assert.Equal(t, "MAILFLOW_PASSWORD_WORK_MAIL", EnvVar(account))
	assert.Equal(t, "MAILFLOW_PASSWORD_A_B", EnvVar(types.Account{ID: "a.b"}))

	t.Setenv("MAILFLOW_PASSWORD_WORK_MAIL", "from-env")
	p, ok, err := NewEnv().GetPassword(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-env", p)

	env := &Env{lookup: func(string) (string, bool) { return "", true }}
	_, ok, err = env.GetPassword(context.Background(), account)
	require.NoError(t, err)
	assert.False(t, ok)
}
