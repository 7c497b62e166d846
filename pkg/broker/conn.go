// Package broker wraps the paho MQTT client: connecting with retries,
// subscribing handlers and publishing payloads.
package broker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultPort         = 1883
	DefaultMaxRetries   = 5
	DefaultMaxElapsed   = 10 * time.Second
	DefaultKeepAlive    = 30 * time.Second
	disconnectQuiesceMs = 250
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	CleanSession bool
	KeepAlive    time.Duration
	MaxRetries   int
	MaxElapsed   time.Duration

	OnConnect        func(mqtt.Client)
	OnConnectionLost func(mqtt.Client, error)

	// NewClient builds the client from the options. Defaults to mqtt.NewClient.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

func (c *Config) Address() string {
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("tcp://%s:%d", c.Host, port)
}

func (c *Config) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Address())
	opts.SetUsername(c.User)
	opts.SetPassword(c.Password)
	opts.SetClientID(c.ClientID)
	opts.SetCleanSession(c.CleanSession)
	keepAlive := c.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	if c.OnConnect != nil {
		opts.SetOnConnectHandler(c.OnConnect)
	}
	if c.OnConnectionLost != nil {
		opts.SetConnectionLostHandler(c.OnConnectionLost)
	}
	return opts
}

// NewConn connects to the broker, retrying with exponential backoff, and
// disconnects the client once ctx is done.
func NewConn(ctx context.Context, cfg *Config) (mqtt.Client, error) {
	opts := cfg.options()
	newClient := cfg.NewClient
	if newClient == nil {
		newClient = mqtt.NewClient
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = DefaultMaxElapsed
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = newClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("broker: connect to %s failed: %v", cfg.Address(), token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection to %s: %w", cfg.Address(), err)
	}

	log.Printf("broker: connected to %s as %q", cfg.Address(), cfg.ClientID)

	go func() {
		<-ctx.Done()
		Close(client)
	}()
	return client, nil
}

// Close disconnects client if it is connected.
func Close(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(disconnectQuiesceMs)
		log.Println("broker: connection closed")
	}
}
