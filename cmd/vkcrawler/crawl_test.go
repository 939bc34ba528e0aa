package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vkcrawler/pkg/config"
)

func TestCrawlFlagsOnlyCarriesChangedFlags(t *testing.T) {
	flags := crawlFlags(crawlCmd, nil)
	assert.NotContains(t, flags, "max-posts")
	assert.NotContains(t, flags, "groups")

	require.NoError(t, crawlCmd.Flags().Set("max-posts", "7"))
	require.NoError(t, crawlCmd.Flags().Set("fast", "true"))
	require.NoError(t, crawlCmd.Flags().Set("account", "main,spare"))

	flags = crawlFlags(crawlCmd, []string{"club1", "durov"})
	assert.Equal(t, 7, flags["max-posts"])
	assert.Equal(t, true, flags["fast"])
	assert.Equal(t, []string{"main", "spare"}, flags["accounts"])
	assert.Equal(t, []string{"club1", "durov"}, flags["groups"])
	assert.NotContains(t, flags, "workers")

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, 7, cfg.Crawl.MaxPosts)
	assert.True(t, cfg.Crawl.FastMode)
	assert.Equal(t, cfg.Crawl.FastWorkers, cfg.WorkerCount())
}

func TestZeroCommentFlagIsKept(t *testing.T) {
	require.NoError(t, crawlCmd.Flags().Set("max-comments", "0"))
	flags := crawlFlags(crawlCmd, nil)
	assert.Equal(t, 0, flags["max-comments"])

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, 0, cfg.Crawl.MaxCommentsPerPost)
	assert.NoError(t, cfg.Validate())
}

func TestDirectoryProblems(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Crawl.DBPath = filepath.Join(dir, "db", "vk.sqlite")
	cfg.Checkpoint.Directory = filepath.Join(dir, "cp")
	cfg.Logging.File = filepath.Join(dir, "logs", "run.log")

	assert.Empty(t, directoryProblems(cfg))
	assert.DirExists(t, filepath.Join(dir, "db"))

	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg.Crawl.DBPath = filepath.Join(blocker, "vk.sqlite")
	assert.Len(t, directoryProblems(cfg), 1)
}
