package discover

import (
	"context"

	"github.com/crowdsift/attendee-pipeline/internal/apollo"
	"github.com/crowdsift/attendee-pipeline/internal/emailpattern"
)

// RemoteDirectory adapts the people-database client to the matcher and
// peer-search interfaces the strategies consume.
type RemoteDirectory struct {
	c *apollo.Client
}

func NewRemoteDirectory(c *apollo.Client) RemoteDirectory {
	return RemoteDirectory{c: c}
}

func (d RemoteDirectory) MatchPerson(ctx context.Context, firstName, lastName, organization string) (*Person, error) {
	p, err := d.c.MatchPerson(ctx, firstName, lastName, organization)
	if err != nil || p == nil {
		return nil, err
	}
	return convertPerson(p), nil
}

func (d RemoteDirectory) PersonByID(ctx context.Context, id string) (*Person, error) {
	p, err := d.c.PersonByID(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	return convertPerson(p), nil
}

func (d RemoteDirectory) SearchPeers(ctx context.Context, organization string, limit int) ([]emailpattern.PeerEmail, error) {
	people, err := d.c.SearchPeople(ctx, organization, limit)
	if err != nil {
		return nil, err
	}
	peers := make([]emailpattern.PeerEmail, 0, len(people))
	for _, p := range people {
		if !p.HasEmail() {
			continue
		}
		peers = append(peers, emailpattern.PeerEmail{
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Email:     p.Email,
		})
	}
	return peers, nil
}

func convertPerson(p *apollo.Person) *Person {
	return &Person{
		ID:          p.ID,
		Email:       p.Email,
		EmailStatus: p.EmailStatus,
		Confidence:  p.Confidence,
	}
}
