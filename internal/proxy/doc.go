// Package proxy forwards authorized requests to the protected upstream.
//
// The proxy runs behind the gate middleware. It strips any client-supplied
// identity headers and replaces them with the subject and issuer of the
// principal the gate attached to the request context.
package proxy
