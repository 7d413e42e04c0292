package valkey

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// Dial connects to Valkey and verifies the connection with PING.
func Dial(ctx context.Context, addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return client, nil
}
