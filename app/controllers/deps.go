package controllers

import (
	"github.com/vpn-sentinel/sentinel/internal/pkg/billing"
	"github.com/vpn-sentinel/sentinel/internal/pkg/certmanager"
	"github.com/vpn-sentinel/sentinel/internal/pkg/jobqueue"
	"github.com/vpn-sentinel/sentinel/internal/pkg/pki"
)

// Container holds the wired services the handlers dispatch to. Populated
// once at startup via Initialize.
type Container struct {
	Ingestor    *billing.Ingestor
	Provider    billing.ProviderClient
	BillingRepo billing.Repository
	Certs       *certmanager.Manager
	CertRepo    certmanager.Repository
	Store       certmanager.CredentialStore
	CA          pki.CommandClient
	Jobs        *jobqueue.Manager
}

var container Container

// Initialize wires the controller layer. Must be called before routes are
// installed.
func Initialize(c Container) {
	container = c
}
