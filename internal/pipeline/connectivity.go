package pipeline

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"assesslab/internal/domain"
	"assesslab/internal/llm"
)

var connectivityHelp = map[domain.ConnectivityKind]string{
	domain.ConnectivityAuth: "The model endpoint rejected the credentials. Check AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY " +
		"and make sure the IAM principal is allowed bedrock:InvokeModel.",
	domain.ConnectivityNotFound: "The model or endpoint was not found. Check the model id and AWS_REGION, and that the model " +
		"is enabled for your account in that region.",
	domain.ConnectivityTimeout: "The model endpoint did not respond in time. Check network access to the endpoint and try again.",
	domain.ConnectivityUnknown: "Could not reach the model endpoint. Check the endpoint configuration and network connectivity.",
}

var (
	authMarkers     = []string{"unrecognizedclient", "invalidsignature", "signaturedoesnotmatch", "accessdenied", "security token", "not authorized", "unauthorized", "forbidden"}
	notFoundMarkers = []string{"resourcenotfound", "not found", "no such host", "could not resolve", "does not exist"}
	timeoutMarkers  = []string{"timeout", "timed out", "deadline exceeded"}
)

// ClassifyConnectivityError maps a failed connection check to a sub-kind and remediation hint.
func ClassifyConnectivityError(err error) (domain.ConnectivityKind, string) {
	kind := classify(err)
	return kind, connectivityHelp[kind]
}

func classify(err error) domain.ConnectivityKind {
	if err == nil {
		return domain.ConnectivityUnknown
	}

	var upErr *llm.UpstreamError
	if errors.As(err, &upErr) {
		switch upErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.ConnectivityAuth
		case http.StatusNotFound:
			return domain.ConnectivityNotFound
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return domain.ConnectivityTimeout
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ConnectivityTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ConnectivityTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return domain.ConnectivityNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, authMarkers):
		return domain.ConnectivityAuth
	case containsAny(msg, notFoundMarkers):
		return domain.ConnectivityNotFound
	case containsAny(msg, timeoutMarkers):
		return domain.ConnectivityTimeout
	}
	return domain.ConnectivityUnknown
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
