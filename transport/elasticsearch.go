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

package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/GoogleCloudPlatform/esagent/document"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/golang/glog"
)

const alreadyExists = "resource_already_exists_exception"

// Options configures an Elasticsearch client.
type Options struct {
	// Nodes lists the node URLs, e.g. "http://localhost:9200". Must not be empty.
	Nodes []string

	ConnectionTimeout time.Duration
	ReadTimeout       time.Duration
	MaxIdleTime       time.Duration

	// AuthHeader, if non-empty, is sent as the Authorization header of every request.
	AuthHeader string

	// TLS is used for https nodes. Nil means the system defaults.
	TLS *tls.Config
}

// BasicAuthHeader returns the Authorization header value for HTTP basic authentication.
func BasicAuthHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// Elasticsearch is a Client backed by one go-elasticsearch client per node. All node clients
// share a single connection pool, and their built-in retries are disabled.
type Elasticsearch struct {
	nodes     []string
	clients   []*elasticsearch.Client
	transport *http.Transport
}

// NewElasticsearch creates an Elasticsearch client for the given options.
func NewElasticsearch(opts Options) (*Elasticsearch, error) {
	if len(opts.Nodes) == 0 {
		return nil, errors.New("transport: no nodes specified")
	}

	rt := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectionTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: opts.ReadTimeout,
		IdleConnTimeout:       opts.MaxIdleTime,
		MaxIdleConnsPerHost:   1,
		TLSClientConfig:       opts.TLS,
	}

	header := http.Header{}
	if opts.AuthHeader != "" {
		header.Set("Authorization", opts.AuthHeader)
	}

	es := &Elasticsearch{nodes: opts.Nodes, transport: rt}
	for _, node := range opts.Nodes {
		c, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses:    []string{node},
			Header:       header,
			Transport:    rt,
			DisableRetry: true,
		})
		if err != nil {
			return nil, err
		}
		es.clients = append(es.clients, c)
	}
	return es, nil
}

func (es *Elasticsearch) Nodes() []string {
	return es.nodes
}

func (es *Elasticsearch) Bulk(node int, docs []document.Document, opaqueId string) (*BulkResponse, error) {
	body, err := EncodeBulk(docs)
	if err != nil {
		return &BulkResponse{StatusCode: http.StatusBadRequest, Errors: true, ErrorMessage: err.Error(), NotSent: true}, nil
	}
	glog.V(2).Infof("Elasticsearch.Bulk: node: %v opaque id: %v body: %s", es.nodes[node], opaqueId, body)

	c := es.clients[node]
	res, err := c.Bulk(bytes.NewReader(body),
		c.Bulk.WithContext(context.Background()),
		c.Bulk.WithOpaqueID(opaqueId))
	if err != nil {
		return nil, &UnreachableError{Node: es.nodes[node], Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &UnreachableError{Node: es.nodes[node], Err: err}
	}
	return DecodeBulkResponse(res.StatusCode, data), nil
}

func (es *Elasticsearch) EnsureIndex(node int, index string) (bool, error) {
	c := es.clients[node]
	res, err := c.Indices.Exists([]string{index}, c.Indices.Exists.WithContext(context.Background()))
	if err != nil {
		return false, &UnreachableError{Node: es.nodes[node], Err: err}
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
	default:
		glog.Warningf("Elasticsearch.EnsureIndex: checking index %v on %v: status %v", index, es.nodes[node], res.StatusCode)
		return false, nil
	}

	res, err = c.Indices.Create(index, c.Indices.Create.WithContext(context.Background()))
	if err != nil {
		return false, &UnreachableError{Node: es.nodes[node], Err: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return false, &UnreachableError{Node: es.nodes[node], Err: err}
	}
	if !res.IsError() {
		glog.Infof("Elasticsearch.EnsureIndex: created index %v", index)
		return true, nil
	}
	// Another writer may have created the index since we checked.
	if strings.Contains(string(data), alreadyExists) {
		return true, nil
	}
	glog.Warningf("Elasticsearch.EnsureIndex: creating index %v on %v: %v", index, es.nodes[node], requestError(res.StatusCode, data))
	return false, nil
}

func (es *Elasticsearch) Close() error {
	es.transport.CloseIdleConnections()
	return nil
}
