// ABOUTME: JSON Web Key Set rendering of the published ES256 public keys
// ABOUTME: Served at the well-known discovery path for token verifiers

package auth

import (
	jose "github.com/go-jose/go-jose/v4"

	"github.com/openape/idp-gateway/internal/store"
)

// BuildJWKS renders every published key as a P-256 verification key tagged
// with its kid so verifiers can select the matching key without trial.
func BuildJWKS(keys []*store.SigningKey) jose.JSONWebKeySet {
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, key := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       key.Public,
			KeyID:     key.Kid,
			Algorithm: "ES256",
			Use:       "sig",
		})
	}
	return set
}
