package service

import "context"

type testTxRepos struct {
	files         FileRepository
	ingestionJobs IngestionJobRepository
}

func (t *testTxRepos) Files() FileRepository {
	return t.files
}

func (t *testTxRepos) IngestionJobs() IngestionJobRepository {
	return t.ingestionJobs
}

type testTxRunner struct {
	repos  TxRepositories
	called bool
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called = true
	return fn(t.repos)
}
