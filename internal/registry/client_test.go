package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/schema"
)

// serve accepts one connection, answers the login frame with the given
// status byte, and hands every batch frame to the channel.
func serve(t *testing.T, wantToken string, status byte, batches chan<- []schema.Update) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		token, err := ReadFrame(conn)
		if err != nil {
			t.Errorf("read login frame: %v", err)
			return
		}
		if string(token) != wantToken {
			t.Errorf("login token = %q, want %q", token, wantToken)
		}
		if _, err := conn.Write([]byte{status}); err != nil {
			return
		}
		for {
			payload, err := ReadFrame(conn)
			if err != nil {
				return
			}
			updates, err := DecodeBatch(payload)
			if err != nil {
				t.Errorf("decode batch: %v", err)
				return
			}
			batches <- updates
		}
	}()
	return listener.Addr().String()
}

func TestClientPublish(t *testing.T) {
	batches := make(chan []schema.Update, 4)
	address := serve(t, "s3cret", loginAccepted, batches)

	client := NewClient(Config{Address: address, Token: "s3cret"})
	require.NoError(t, client.Open(t.Context()))
	defer client.Close()

	info := schema.SecurityInfo{
		Security: schema.Security{Symbol: "FOO", Venue: "X"},
		Name:     "Foo Corporation",
		BoardLot: 100,
	}
	require.NoError(t, client.SetSecurityInfo(info))

	batch := []schema.Update{
		schema.BboQuote{
			Security: info.Security,
			Bid:      schema.Quote{Price: 99_500_000, Size: 300, Side: schema.SideBid},
			Ask:      schema.Quote{Price: 100_500_000, Size: 200, Side: schema.SideAsk},
		},
		schema.TimeAndSale{
			Security:  info.Security,
			Price:     100_000_000,
			Size:      50,
			Condition: "@",
		},
	}
	require.NoError(t, client.SendMessages(batch))

	select {
	case got := <-batches:
		assert.Equal(t, []schema.Update{info}, got)
	case <-time.After(time.Second):
		t.Fatal("registration batch never arrived")
	}
	select {
	case got := <-batches:
		assert.Equal(t, batch, got)
	case <-time.After(time.Second):
		t.Fatal("update batch never arrived")
	}
}

func TestClientLoginRejected(t *testing.T) {
	address := serve(t, "bad", loginRejected, nil)

	client := NewClient(Config{Address: address, Token: "bad"})
	err := client.Open(t.Context())
	assert.ErrorIs(t, err, ErrLoginRejected)
}

func TestSendBeforeOpen(t *testing.T) {
	client := NewClient(Config{Address: "127.0.0.1:1"})
	err := client.SendMessages([]schema.Update{schema.BboQuote{}})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEmptyBatchIsNoop(t *testing.T) {
	client := NewClient(Config{Address: "127.0.0.1:1"})
	assert.NoError(t, client.SendMessages(nil))
}

func TestCloseIdempotent(t *testing.T) {
	batches := make(chan []schema.Update, 1)
	address := serve(t, "tok", loginAccepted, batches)

	client := NewClient(Config{Address: address, Token: "tok"})
	require.NoError(t, client.Open(t.Context()))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.SendMessages([]schema.Update{schema.BboQuote{}}), ErrNotConnected)
}
