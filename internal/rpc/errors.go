package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
)

// errorClass decides how a failed node call is handled.
type errorClass int

const (
	classPermanent errorClass = iota
	classTransient
	classNotFound
	// classResultTooLarge is a log query the node refuses to answer in one response
	classResultTooLarge
)

func (c errorClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classNotFound:
		return "not_found"
	case classResultTooLarge:
		return "result_too_large"
	default:
		return "permanent"
	}
}

var (
	transientMarkers = []string{
		"timeout", "deadline exceeded",
		"429", "too many requests", "rate limit",
		"502", "503", "504", "bad gateway", "service unavailable",
		"connection pool", "no available connection", "connection reset",
	}

	tooLargeRe       = regexp.MustCompile(`(?i)query returned more than \d+ results|log response size exceeded`)
	suggestedRangeRe = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

func classify(err error) errorClass {
	switch {
	case err == nil:
		return classPermanent
	case errors.Is(err, ethereum.NotFound), errors.Is(err, chain.ErrBlockNotFound):
		return classNotFound
	case errors.Is(err, context.Canceled):
		return classPermanent
	case tooLargeRe.MatchString(errorText(err)):
		return classResultTooLarge
	case chain.IsTransient(err):
		return classTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return classTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return classTransient
		}
	}

	return classPermanent
}

// errorText is the error message together with the data payload nodes attach to JSON-RPC errors.
func errorText(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return fmt.Sprintf("%s %v", err.Error(), dataErr.ErrorData())
	}
	return err.Error()
}

// splitPoint returns where a rejected log query over [lo, hi] is split: the end of the range the
// node suggests when it names one inside [lo, hi), the middle otherwise.
func splitPoint(err error, lo, hi uint64) uint64 {
	mid := lo + (hi-lo)/2

	m := suggestedRangeRe.FindStringSubmatch(errorText(err))
	if m == nil {
		return mid
	}

	to, perr := common.ParseUint64OrHex(m[2])
	if perr != nil || to < lo || to >= hi {
		return mid
	}
	return to
}
