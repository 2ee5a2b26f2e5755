// mock-services hosts in-process stand-ins for the people database and
// the CRM, for local development without live credentials.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/crowdsift/attendee-pipeline/internal/mockremote"
)

func main() {
	addr := defaultString("MOCK_SERVICES_ADDR", ":8080")
	apiKey := defaultString("MOCK_SERVICES_API_KEY", "")
	crmUser := defaultString("MOCK_SERVICES_CRM_USERNAME", "")
	crmPass := defaultString("MOCK_SERVICES_CRM_PASSWORD", "")
	instanceURL := defaultString("MOCK_SERVICES_INSTANCE_URL", "")

	fs := flag.NewFlagSet("mock-services", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&apiKey, "api-key", apiKey, "Require this X-Api-Key on people endpoints (empty disables)")
	fs.StringVar(&crmUser, "crm-username", crmUser, "Require this CRM username on login (empty disables)")
	fs.StringVar(&crmPass, "crm-password", crmPass, "CRM password matching -crm-username")
	fs.StringVar(&instanceURL, "instance-url", instanceURL, "Instance URL reported by the CRM login endpoint")
	_ = fs.Parse(os.Args[1:])

	srv := mockremote.New()
	if apiKey != "" {
		srv.RequirePeopleAPIKey(apiKey)
	}
	if crmUser != "" {
		srv.RequireCRMCredentials(crmUser, crmPass)
	}
	if instanceURL == "" {
		instanceURL = "http://localhost" + addr
	}
	srv.SetInstanceURL(instanceURL)

	_, _ = fmt.Fprintf(os.Stdout, "mock-services listening on %s (instance=%s)\n", addr, instanceURL)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
