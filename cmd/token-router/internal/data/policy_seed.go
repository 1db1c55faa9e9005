package data

import (
	"fmt"
	"os"

	"tokenrouter/cmd/token-router/internal/domain"

	"gopkg.in/yaml.v3"
)

// policySeedFile 策略种子文件格式
type policySeedFile struct {
	Policies []policySeed `yaml:"policies"`
}

type policySeed struct {
	LevelID             string `yaml:"level_id"`
	UserID              string `yaml:"user_id"`
	BaseAllocation      int64  `yaml:"base_allocation"`
	MonthlyAllocation   int64  `yaml:"monthly_allocation"`
	MonthlyCap          int64  `yaml:"monthly_cap"`
	RolloverPercent     int    `yaml:"rollover_percent"`
	AllocationMode      string `yaml:"allocation_mode"`
	EnforcementMode     string `yaml:"enforcement_mode"`
	PriorityWeight      int    `yaml:"priority_weight"`
	MinExecutionReserve int64  `yaml:"min_execution_reserve"`
}

// LoadPolicySeeds 读取 YAML 策略种子文件
func LoadPolicySeeds(path string) ([]*domain.AllocationPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy seed file: %w", err)
	}
	return ParsePolicySeeds(raw)
}

// ParsePolicySeeds 解析策略种子，缺省字段取默认值
func ParsePolicySeeds(raw []byte) ([]*domain.AllocationPolicy, error) {
	var file policySeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse policy seed file: %w", err)
	}

	out := make([]*domain.AllocationPolicy, 0, len(file.Policies))
	for i, s := range file.Policies {
		p := domain.NewLevelPolicy(s.LevelID)
		p.UserID = s.UserID
		p.BaseAllocation = s.BaseAllocation
		p.MonthlyAllocation = s.MonthlyAllocation
		p.MonthlyCap = s.MonthlyCap
		p.RolloverPercent = s.RolloverPercent
		p.MinExecutionReserve = s.MinExecutionReserve
		if s.AllocationMode != "" {
			p.AllocationMode = domain.AllocationMode(s.AllocationMode)
		}
		if s.EnforcementMode != "" {
			p.EnforcementMode = domain.EnforcementMode(s.EnforcementMode)
		}
		if s.PriorityWeight > 0 {
			p.PriorityWeight = s.PriorityWeight
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy #%d: %w", i+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}
