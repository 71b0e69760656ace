package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategoryAllowed(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		category   string
		want       bool
	}{
		{"未配置时全部放行", "", "Electronics", true},
		{"命中类目", "Electronics,Books", "Books", true},
		{"忽略大小写", "Electronics,Books", "BOOKS", true},
		{"忽略空格", " Electronics , Books ", "electronics", true},
		{"未命中类目", "Electronics,Books", "Fashion", false},
		{"未指定类目时不拦截", "Electronics", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &WalletSettings{ApplicableCategories: tt.configured}
			require.Equal(t, tt.want, settings.CategoryAllowed(tt.category))
		})
	}
}
