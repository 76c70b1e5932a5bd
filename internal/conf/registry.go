package conf

import (
	"fmt"

	"chatservice/internal/domain"
	"chatservice/internal/tokenizer"
)

// BuildRegistry 把模型声明装配成注册表，分词器按模型家族选择
func BuildRegistry(models []ModelConfig) (*domain.ModelRegistry, error) {
	registry := domain.NewModelRegistry()
	for _, m := range models {
		kind := domain.BackendKind(m.Backend)
		switch kind {
		case domain.BackendRemoteAPI, domain.BackendLocal:
		default:
			return nil, fmt.Errorf("model %q: unknown backend %q", m.Name, m.Backend)
		}
		if m.MaxTotalTokens <= 0 || m.MaxTokensPerRequest <= 0 {
			return nil, fmt.Errorf("model %q: token limits must be positive", m.Name)
		}

		margin := m.TokenMargin
		if margin == 0 {
			margin = 8
		}
		desc := &domain.ModelDescriptor{
			Name:                m.Name,
			MaxTotalTokens:      m.MaxTotalTokens,
			MaxTokensPerRequest: m.MaxTokensPerRequest,
			TokenMargin:         margin,
			Tokenizer:           tokenizer.ForModel(m.Name),
			Backend:             kind,
			Endpoint:            m.Endpoint,
			APIKey:              m.APIKey,
			ModelPath:           m.ModelPath,
			Description:         m.Description,
		}
		if err := registry.Register(desc); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
