package service

import (
	"context"

	"commentguard/internal/fraudgraph"
	"commentguard/internal/repository"
)

// FraudService groups commenters that share payment handles, contacts or URLs.
type FraudService struct {
	repo repository.SuspiciousRepository
}

// NewFraudService returns a new FraudService.
func NewFraudService(repo repository.SuspiciousRepository) *FraudService {
	return &FraudService{repo: repo}
}

// Clusters returns the identifier clusters that include at least one commenter of
// accountID. Clusters may span other accounts. Zero returns every cluster.
func (s *FraudService) Clusters(ctx context.Context, accountID uint) ([]fraudgraph.Cluster, error) {
	shared, err := s.repo.ListSharedIdentifiers(ctx)
	if err != nil {
		return nil, err
	}

	links := make([]fraudgraph.Link, 0, len(shared))
	for _, id := range shared {
		links = append(links, fraudgraph.Link{
			Node:       fraudgraph.Node{AccountID: id.AccountID, CommenterID: id.CommenterID},
			Identifier: id.Normalized,
		})
	}

	clusters := fraudgraph.Build(links)
	if accountID == 0 {
		return clusters, nil
	}
	out := make([]fraudgraph.Cluster, 0, len(clusters))
	for _, c := range clusters {
		for _, m := range c.Members {
			if m.AccountID == accountID {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}
