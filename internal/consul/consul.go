// Package consul registers this service with a Consul agent so peers and
// load balancers can discover it. Registration is optional; the app runs
// fine without an agent.
package consul

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

// NewClient connects to the Consul agent at the given address, or the
// default local agent when address is empty.
func NewClient(address string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating consul client: %w", err)
	}
	return client, nil
}

// RegisterService registers this instance with the agent, using the
// /ping endpoint as the health check.
func RegisterService(client *consulapi.Client, name, address string, port int) error {
	registration := &consulapi.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", name, address, port),
		Name:    name,
		Address: address,
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/ping", address, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("registering service %s: %w", name, err)
	}
	return nil
}
