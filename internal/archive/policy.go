package archive

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Policy 是一个具名的 Filter，供清单通过名称引用。
type Policy struct {
	Key         string
	Description string
	Filter      Filter
}

var globalPolicies = newPolicyRegistry()

type policyRegistry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func newPolicyRegistry() *policyRegistry {
	return &policyRegistry{policies: make(map[string]Policy)}
}

// Register 将策略加入全局注册表，重复键或无法编译的 Filter 会返回错误。
func Register(policy Policy) error {
	return globalPolicies.register(policy)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(policy Policy) {
	if err := Register(policy); err != nil {
		panic(err)
	}
}

// ResolvePolicy 返回指定键的策略。
func ResolvePolicy(key string) (Policy, bool) {
	return globalPolicies.resolve(key)
}

// Policies 返回按键排序的策略列表。
func Policies() []Policy {
	return globalPolicies.list()
}

func (r *policyRegistry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *policyRegistry) register(policy Policy) error {
	key := r.normalizeKey(policy.Key)
	if key == "" {
		return fmt.Errorf("policy key is required")
	}
	if err := policy.Filter.Validate(); err != nil {
		return fmt.Errorf("policy %s: %w", key, err)
	}
	policy.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[key]; exists {
		return fmt.Errorf("policy %s already registered", key)
	}
	r.policies[key] = policy
	return nil
}

func (r *policyRegistry) resolve(key string) (Policy, bool) {
	normalized := r.normalizeKey(key)
	if normalized == "" {
		return Policy{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[normalized]
	return policy, ok
}

func (r *policyRegistry) list() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.policies) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.policies))
	for key := range r.policies {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Policy, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.policies[key])
	}
	return result
}
