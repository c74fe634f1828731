package config

// Sample is the starter configuration written by `runwarden init`.
const Sample = `# runwarden configuration
provider: sqlite
sqlite:
  path: ./runwarden.db

# dynamodb:
#   tableName: runwarden
#   region: us-east-1
#   verdictTtl: 720h
#   retentionTtl: 2160h

policy:
  confidenceThreshold: 0.8
  maxAttempts: 2
  cooldown: 30m
  cooldownMultiplier: 2
  maxCooldown: 4h

cycle:
  interval: 24h
  deadline: 10m
  workers: 4

platform:
  rerunMode: failed-jobs
  requestsPerSecond: 5

inference:
  model: gpt-4o-mini
  apiKeyEnv: OPENAI_API_KEY

messaging:
  telegram:
    tokenEnv: TELEGRAM_TOKEN
    chatId: "123456789"

alerts:
  - type: console

targets:
  - account: acc1
    project: octo/app
    label: app
    channel: "@app-alerts"
`
