// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builder

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/ioutil"

	"github.com/GoogleCloudPlatform/esagent/config"
	"github.com/GoogleCloudPlatform/esagent/deadletter"
	"github.com/GoogleCloudPlatform/esagent/document"
	"github.com/GoogleCloudPlatform/esagent/engine"
	"github.com/GoogleCloudPlatform/esagent/sink"
	"github.com/GoogleCloudPlatform/esagent/stats"
	"github.com/GoogleCloudPlatform/esagent/transport"
	"github.com/golang/glog"
)

// Agent holds the components built from a configuration. Sink owns the engine, the transport and
// the dead-letter store: closing it releases all of them.
type Agent struct {
	Sink        *sink.Sink
	Engine      *engine.Engine
	Mapper      *document.Mapper
	DeadLetters deadletter.Store
}

// Build builds an Agent from cfg, which must be valid. Counter updates are sent to recorder.
func Build(cfg *config.Config, recorder stats.Recorder) (*Agent, error) {
	opts, err := TransportOptions(cfg)
	if err != nil {
		return nil, err
	}
	client, err := transport.NewElasticsearch(opts)
	if err != nil {
		return nil, err
	}
	return build(cfg, client, recorder)
}

func build(cfg *config.Config, client transport.Client, recorder stats.Recorder) (*Agent, error) {
	if cfg.Document == nil {
		return nil, errors.New("builder: missing document section")
	}
	e, err := engine.New(client,
		engine.WithReconnectionPolicyCount(cfg.GetReconnectionPolicyCount()),
		engine.WithReconnectionInterval(cfg.GetReconnectionInterval()),
		engine.WithIndexCreation(cfg.GetCreateIndexes()),
		engine.WithRecorder(recorder))
	if err != nil {
		client.Close()
		return nil, err
	}

	sinkOpts := []sink.Option{
		sink.WithBatchSize(cfg.GetBulkSize()),
		sink.WithConsistent(cfg.ConsistentRegion),
	}
	var dl deadletter.Store
	if cfg.DeadLetter != nil {
		if dl, err = createDeadLetters(cfg.DeadLetter); err != nil {
			e.Close()
			return nil, err
		}
		sinkOpts = append(sinkOpts, sink.WithDeadLetters(dl))
	}

	glog.Infof("builder: %v nodes, bulk size %v, consistent %v", e.NumNodes(), cfg.GetBulkSize(), cfg.ConsistentRegion)
	return &Agent{
		Sink:        sink.New(e, sinkOpts...),
		Engine:      e,
		Mapper:      document.NewMapper(cfg.Document.Mapping()),
		DeadLetters: dl,
	}, nil
}

func createDeadLetters(cfg *config.DeadLetter) (deadletter.Store, error) {
	if cfg.Directory == "" {
		return deadletter.NewMemoryStore(), nil
	}
	return deadletter.NewDiskStore(cfg.Directory)
}

// TransportOptions returns the transport options described by cfg.
func TransportOptions(cfg *config.Config) (transport.Options, error) {
	opts := transport.Options{
		Nodes:             cfg.Nodes,
		ConnectionTimeout: cfg.GetConnectionTimeout(),
		ReadTimeout:       cfg.GetReadTimeout(),
		MaxIdleTime:       cfg.GetMaxConnectionIdleTime(),
	}
	if cfg.UseBasicAuth() {
		opts.AuthHeader = transport.BasicAuthHeader(cfg.UserName, cfg.Password)
	}
	if cfg.SSL != nil && cfg.SSL.Enabled {
		tlsConfig, err := TLSConfig(cfg.SSL)
		if err != nil {
			return opts, err
		}
		opts.TLS = tlsConfig
	}
	return opts, nil
}

// TLSConfig returns the tls.Config described by ssl.
func TLSConfig(ssl *config.SSL) (*tls.Config, error) {
	c := &tls.Config{MinVersion: tls.VersionTLS12}
	if ssl.TrustAllCertificates {
		c.InsecureSkipVerify = true
		return c, nil
	}
	if ssl.TrustStore != "" {
		pem, err := ioutil.ReadFile(ssl.TrustStore)
		if err != nil {
			return nil, fmt.Errorf("ssl: reading trust store: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ssl: no certificates found in %v", ssl.TrustStore)
		}
		c.RootCAs = pool
	}
	if !ssl.GetVerifyHostname() {
		// Verify the chain against the configured roots but ignore the server name.
		roots := c.RootCAs
		c.InsecureSkipVerify = true
		c.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("ssl: no peer certificates")
			}
			opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	}
	return c, nil
}
