// Package certificate produces the tamper-evident audit record bound to every
// completed request. The content digest is a pure function of the request's
// inputs and outputs, so replay audits recompute it byte-for-byte; the chain
// digest links each record to the previous log head.
package certificate

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"
	"time"

	"github.com/normativa/lexgate/legal"
)

// Metrics is the risk summary sealed into the certificate.
type Metrics struct {
	InformationBudget    float64 `json:"informationBudget"`
	RetrievedInformation float64 `json:"retrievedInformation"`
	ISR                  float64 `json:"isr"`
	RoH                  float64 `json:"roh"`
	PartialRetrieval     bool    `json:"partialRetrieval"`
}

// Inputs is everything the content digest covers.
type Inputs struct {
	QueryText     string
	Jurisdictions []string
	CitedChunkIDs []string
	AnswerText    string
	Metrics       Metrics
	Decision      legal.Decision
}

// Certificate is the persisted audit record.
type Certificate struct {
	AnswerID    string    `json:"answerId"`
	Digest      string    `json:"digest"`
	PrevDigest  string    `json:"prevDigest"`
	ChainDigest string    `json:"chainDigest"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ComputeDigest hashes a canonical serialization of the inputs. Chunk ids are
// sorted and every field is length-prefixed, so no two distinct input sets
// share a serialization and identical inputs always produce identical bytes.
func ComputeDigest(in Inputs) string {
	h := sha256.New()

	writeField := func(field string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
		h.Write(lenBuf[:])
		h.Write([]byte(field))
	}

	writeField(in.QueryText)

	jurisdictions := append([]string(nil), in.Jurisdictions...)
	sort.Strings(jurisdictions)
	writeField(strconv.Itoa(len(jurisdictions)))
	for _, j := range jurisdictions {
		writeField(j)
	}

	cited := append([]string(nil), in.CitedChunkIDs...)
	sort.Strings(cited)
	writeField(strconv.Itoa(len(cited)))
	for _, id := range cited {
		writeField(id)
	}

	writeField(in.AnswerText)
	writeField(formatFloat(in.Metrics.InformationBudget))
	writeField(formatFloat(in.Metrics.RetrievedInformation))
	writeField(formatFloat(in.Metrics.ISR))
	writeField(formatFloat(in.Metrics.RoH))
	writeField(strconv.FormatBool(in.Metrics.PartialRetrieval))
	writeField(string(in.Decision))

	return hex.EncodeToString(h.Sum(nil))
}

// ChainDigest links a content digest to the previous log head.
func ChainDigest(prevDigest, digest string) string {
	h := sha256.New()
	h.Write([]byte(prevDigest))
	h.Write([]byte(digest))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
